package flowtable

import (
	"sync"

	"PacketPilot/internal/model"
)

// shard is one partition of the flow map with its own lock.
type shard struct {
	mu    sync.RWMutex
	flows map[model.FlowKey]*Flow
}

func newShard() *shard {
	return &shard{flows: make(map[model.FlowKey]*Flow)}
}
