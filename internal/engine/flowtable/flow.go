package flowtable

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"PacketPilot/internal/model"
)

// sampleWindow bounds the per-flow inter-arrival and payload history.
const sampleWindow = 32

// Flow is one tracked network conversation. Counters and the last-seen
// timestamp are atomics so the hot path updates them without locking;
// classification and tunnel assignment are guarded by a per-flow mutex.
type Flow struct {
	Key       model.FlowKey
	Tuple     model.FiveTuple
	CreatedAt time.Time

	lastSeen atomic.Int64 // UnixNano
	packets  atomic.Uint64
	bytes    atomic.Uint64

	mu         sync.Mutex
	label      model.Label
	confidence float64
	tunnelID   string
	assignedAt time.Time
	decision   *model.RoutingDecision

	// Bounded sample rings for the classifier.
	lastPacketNano int64
	deltas         [sampleWindow]time.Duration
	payloads       [sampleWindow]int
	cursor         int
	count          int
}

// Touch records one packet against the flow: counters, last-seen, and a
// sample for the classifier's bounded window.
func (f *Flow) Touch(info *model.PacketInfo) {
	ts := info.Timestamp.UnixNano()
	f.lastSeen.Store(ts)
	f.packets.Add(1)
	f.bytes.Add(uint64(info.Length))

	f.mu.Lock()
	if f.lastPacketNano != 0 {
		f.deltas[f.cursor] = time.Duration(ts - f.lastPacketNano)
		f.payloads[f.cursor] = info.PayloadLen
		f.cursor = (f.cursor + 1) % sampleWindow
		if f.count < sampleWindow {
			f.count++
		}
	}
	f.lastPacketNano = ts
	f.mu.Unlock()
}

// LastSeen returns the timestamp of the most recent packet.
func (f *Flow) LastSeen() time.Time {
	return time.Unix(0, f.lastSeen.Load())
}

// Counters returns the packet and byte totals.
func (f *Flow) Counters() (packets, bytes uint64) {
	return f.packets.Load(), f.bytes.Load()
}

// Label returns the current classification and its confidence.
func (f *Flow) Label() (model.Label, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.label, f.confidence
}

// SetLabel stores a classification result.
func (f *Flow) SetLabel(label model.Label, confidence float64) {
	f.mu.Lock()
	f.label = label
	f.confidence = confidence
	f.mu.Unlock()
}

// Assignment returns the currently assigned tunnel, if any.
func (f *Flow) Assignment() (tunnelID string, assignedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tunnelID, f.assignedAt
}

// Decision returns the active routing decision, or nil when unassigned.
func (f *Flow) Decision() *model.RoutingDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decision
}

// Assign commits a routing decision to the flow. The previous decision,
// if any, is replaced: a flow has at most one active decision.
func (f *Flow) Assign(d model.RoutingDecision) {
	f.mu.Lock()
	f.tunnelID = d.TunnelID
	f.assignedAt = d.At
	f.decision = &d
	f.mu.Unlock()
}

// Unassign clears the tunnel assignment; subsequent packets pass through.
func (f *Flow) Unassign() {
	f.mu.Lock()
	f.tunnelID = ""
	f.assignedAt = time.Time{}
	f.decision = nil
	f.mu.Unlock()
}

// Stats produces the classifier's view of the flow. The returned value
// is a copy; the caller never observes later mutation.
func (f *Flow) Stats() model.FlowStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := model.FlowStats{
		Protocol:    f.Tuple.Protocol,
		DstIP:       f.Tuple.DstIP,
		DstPort:     f.Tuple.DstPort,
		Samples:     f.count,
		PacketCount: f.packets.Load(),
	}
	if f.count == 0 {
		return stats
	}

	var paySum int
	var deltaSum time.Duration
	for i := 0; i < f.count; i++ {
		paySum += f.payloads[i]
		deltaSum += f.deltas[i]
	}
	mean := deltaSum / time.Duration(f.count)

	var variance float64
	for i := 0; i < f.count; i++ {
		d := float64(f.deltas[i] - mean)
		variance += d * d
	}
	variance /= float64(f.count)

	stats.AvgPayload = float64(paySum) / float64(f.count)
	stats.AvgInterval = mean
	stats.JitterStddev = time.Duration(math.Sqrt(variance))
	return stats
}
