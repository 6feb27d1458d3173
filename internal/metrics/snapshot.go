package metrics

import (
	"PacketPilot/internal/engine/flowtable"
	"PacketPilot/internal/engine/pipeline"
	"PacketPilot/internal/model"
)

// Snapshot is the periodic persistence payload: the flow table, tunnel
// health, and pipeline counters at one point in time.
type Snapshot struct {
	Flows    []flowtable.FlowRecord
	Tunnels  []model.TunnelHealth
	Counters pipeline.Counters
}
