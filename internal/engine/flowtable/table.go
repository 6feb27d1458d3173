package flowtable

import (
	"time"

	"PacketPilot/internal/model"
)

const defaultShardCount = 64

// Table tracks active flows in a sharded map keyed by 5-tuple. Shards
// keep hot-path contention low; there is never a single global lock.
type Table struct {
	shards     []*shard
	shardCount uint32
}

// New creates a flow table with the given shard count.
func New(numShards uint32) *Table {
	if numShards == 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}
	t := &Table{
		shards:     make([]*shard, numShards),
		shardCount: numShards,
	}
	for i := range t.shards {
		t.shards[i] = newShard()
	}
	return t
}

// keyHash computes FNV-1a over the packed key bytes without allocating.
func keyHash(k model.FlowKey) uint32 {
	h := uint32(2166136261)
	for _, b := range k.SrcIP {
		h = (h ^ uint32(b)) * 16777619
	}
	for _, b := range k.DstIP {
		h = (h ^ uint32(b)) * 16777619
	}
	h = (h ^ uint32(k.SrcPort>>8)) * 16777619
	h = (h ^ uint32(k.SrcPort&0xff)) * 16777619
	h = (h ^ uint32(k.DstPort>>8)) * 16777619
	h = (h ^ uint32(k.DstPort&0xff)) * 16777619
	h = (h ^ uint32(k.Protocol)) * 16777619
	return h
}

func (t *Table) getShard(k model.FlowKey) *shard {
	return t.shards[keyHash(k)%t.shardCount]
}

// LookupOrCreate returns the flow for the given tuple, creating it on the
// first observed packet. The second return value reports creation.
func (t *Table) LookupOrCreate(ft model.FiveTuple, now time.Time) (*Flow, bool) {
	key := ft.Key()
	s := t.getShard(key)

	s.mu.RLock()
	flow, ok := s.flows[key]
	s.mu.RUnlock()
	if ok {
		return flow, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if flow, ok = s.flows[key]; ok {
		return flow, false
	}
	flow = &Flow{
		Key:       key,
		Tuple:     ft,
		CreatedAt: now,
	}
	flow.lastSeen.Store(now.UnixNano())
	s.flows[key] = flow
	return flow, true
}

// Get returns the flow for a key, if tracked.
func (t *Table) Get(key model.FlowKey) (*Flow, bool) {
	s := t.getShard(key)
	s.mu.RLock()
	flow, ok := s.flows[key]
	s.mu.RUnlock()
	return flow, ok
}

// EvictIdle removes flows idle past the timeout and returns them.
// Two-phase per shard: stale keys are collected under a read lock, then
// re-checked under the write lock before deletion, so a flow touched
// mid-eviction survives until the next cycle.
func (t *Table) EvictIdle(now time.Time, idleTimeout time.Duration) []*Flow {
	cutoff := now.Add(-idleTimeout).UnixNano()
	var evicted []*Flow

	for _, s := range t.shards {
		var stale []model.FlowKey
		s.mu.RLock()
		for key, flow := range s.flows {
			if flow.lastSeen.Load() < cutoff {
				stale = append(stale, key)
			}
		}
		s.mu.RUnlock()

		if len(stale) == 0 {
			continue
		}
		s.mu.Lock()
		for _, key := range stale {
			flow, ok := s.flows[key]
			if !ok || flow.lastSeen.Load() >= cutoff {
				continue
			}
			delete(s.flows, key)
			evicted = append(evicted, flow)
		}
		s.mu.Unlock()
	}
	return evicted
}

// Len returns the number of tracked flows.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.flows)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for every tracked flow until fn returns false.
func (t *Table) Range(fn func(*Flow) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
		flows := make([]*Flow, 0, len(s.flows))
		for _, flow := range s.flows {
			flows = append(flows, flow)
		}
		s.mu.RUnlock()

		for _, flow := range flows {
			if !fn(flow) {
				return
			}
		}
	}
}

// FlowRecord is the snapshot form of one flow, for writers and the API.
type FlowRecord struct {
	Tuple     string    `json:"tuple"`
	Label     string    `json:"label"`
	TunnelID  string    `json:"tunnel,omitempty"`
	Packets   uint64    `json:"packets"`
	Bytes     uint64    `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Records returns a point-in-time copy of all flows.
func (t *Table) Records() []FlowRecord {
	records := make([]FlowRecord, 0, t.Len())
	t.Range(func(f *Flow) bool {
		label, _ := f.Label()
		tunnelID, _ := f.Assignment()
		packets, bytes := f.Counters()
		records = append(records, FlowRecord{
			Tuple:     f.Tuple.String(),
			Label:     label.String(),
			TunnelID:  tunnelID,
			Packets:   packets,
			Bytes:     bytes,
			CreatedAt: f.CreatedAt,
			LastSeen:  f.LastSeen(),
		})
		return true
	})
	return records
}
