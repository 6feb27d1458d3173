package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"PacketPilot/internal/engine/classify"
	"PacketPilot/internal/engine/flowtable"
	"PacketPilot/internal/engine/protocol"
	"PacketPilot/internal/engine/selector"
	"PacketPilot/internal/model"

	"github.com/google/uuid"
)

// HealthSource supplies pre-computed tunnel health. The hot path only
// ever reads snapshots; it never calls into the monitor synchronously.
type HealthSource interface {
	Snapshot() []model.TunnelHealth
}

// Counters is a point-in-time copy of the pipeline's packet counters.
type Counters struct {
	Processed  uint64 `json:"processed"`
	Steered    uint64 `json:"steered"`
	Passed     uint64 `json:"passed"`
	Malformed  uint64 `json:"malformed"`
	EncapErrs  uint64 `json:"encapErrors"`
	InjectErrs uint64 `json:"injectErrors"`
}

// Pipeline is the per-packet hot path: resolve the flow, classify it if
// its label is not yet sticky, and either encapsulate the packet for the
// assigned tunnel or pass it through unmodified. One goroutine runs per
// capture direction.
type Pipeline struct {
	table      *flowtable.Table
	classifier *classify.Classifier
	selector   *selector.Selector
	health     HealthSource
	surface    model.CaptureSurface
	endpoint   model.TunnelEndpoint
	sink       model.EventSink

	// Active game profiles, swapped atomically on configuration change
	// so every packet observes a consistent, immutable view.
	profiles atomic.Pointer[[]classify.Profile]

	processed  atomic.Uint64
	steered    atomic.Uint64
	passed     atomic.Uint64
	malformed  atomic.Uint64
	encapErrs  atomic.Uint64
	injectErrs atomic.Uint64

	wg sync.WaitGroup
}

// New creates a steering pipeline.
func New(
	table *flowtable.Table,
	classifier *classify.Classifier,
	sel *selector.Selector,
	health HealthSource,
	surface model.CaptureSurface,
	endpoint model.TunnelEndpoint,
	sink model.EventSink,
) *Pipeline {
	p := &Pipeline{
		table:      table,
		classifier: classifier,
		selector:   sel,
		health:     health,
		surface:    surface,
		endpoint:   endpoint,
		sink:       sink,
	}
	empty := []classify.Profile{}
	p.profiles.Store(&empty)
	return p
}

// SetProfiles swaps the active game profiles. Takes effect for the next
// packet; in-flight packets finish against the old view.
func (p *Pipeline) SetProfiles(profiles []classify.Profile) {
	p.profiles.Store(&profiles)
}

// Start launches one receive loop per capture direction.
func (p *Pipeline) Start(ctx context.Context) {
	for _, dir := range []model.Direction{model.DirectionOutbound, model.DirectionInbound} {
		p.wg.Add(1)
		go p.run(ctx, dir)
	}
	log.Println("Steering pipeline started (outbound + inbound).")
}

// Wait blocks until both direction loops have drained and exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// run pulls packets for one direction until the context is cancelled.
// A packet already dequeued when cancellation hits is still processed.
func (p *Pipeline) run(ctx context.Context, dir model.Direction) {
	defer p.wg.Done()
	for {
		raw, err := p.surface.Receive(ctx, dir)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			// Capture failure: log and keep pulling. Never aborts the
			// pipeline.
			log.Printf("Capture receive error (%s): %v", dir, err)
			continue
		}
		p.process(raw)
		if ctx.Err() != nil {
			return
		}
	}
}

// process handles a single packet. Bounded work only: no blocking I/O,
// no synchronous monitor calls.
func (p *Pipeline) process(raw model.RawPacket) {
	p.processed.Add(1)

	info, err := protocol.ParsePacket(raw)
	if err != nil {
		// Malformed or non-steerable packets are passed through
		// unmodified and counted, never dropped silently.
		p.malformed.Add(1)
		p.inject(raw)
		return
	}

	flow, _ := p.table.LookupOrCreate(info.FiveTuple, info.Timestamp)
	flow.Touch(info)

	label, confidence := flow.Label()
	if !p.classifier.Sticky(confidence) {
		p.reclassify(flow, label, info.Timestamp)
	}

	// The assigned tunnel must still be selectable right now. The
	// housekeeper reassigns flows whose tunnel went down; until that
	// lands, their packets pass through instead of feeding a dead path.
	tunnelID, _ := flow.Assignment()
	if tunnelID == "" || !p.selectable(tunnelID) {
		p.passed.Add(1)
		p.inject(raw)
		return
	}

	encapped, err := p.endpoint.Encapsulate(raw.Data, tunnelID)
	if err != nil {
		// Fail open: the packet still goes out, just unoptimized.
		p.encapErrs.Add(1)
		p.passed.Add(1)
		p.inject(raw)
		return
	}
	p.steered.Add(1)
	p.inject(model.RawPacket{Data: encapped, Direction: raw.Direction, Timestamp: raw.Timestamp})
}

// reclassify re-runs classification for a flow whose label is not yet
// sticky. Reaching game triggers an immediate tunnel selection so the
// flow is steered from its next packet.
func (p *Pipeline) reclassify(flow *flowtable.Flow, prev model.Label, now time.Time) {
	profiles := *p.profiles.Load()
	result := p.classifier.Classify(flow.Stats(), profiles)
	if result.Label == prev {
		if result.Confidence > 0 {
			flow.SetLabel(result.Label, result.Confidence)
		}
		return
	}

	flow.SetLabel(result.Label, result.Confidence)
	if p.sink != nil && result.Label != model.LabelUnknown {
		p.sink.Publish(model.Event{
			ID:         uuid.NewString(),
			Type:       model.EventFlowClassified,
			Timestamp:  now,
			Flow:       flow.Tuple.String(),
			Label:      result.Label.String(),
			Confidence: result.Confidence,
			Reason:     result.Rule,
		})
	}

	if result.Label == model.LabelGame {
		counts := selector.AssignedCounts(p.table)
		if change := p.selector.Apply(flow, p.health.Snapshot(), counts, now); change != nil {
			p.publishSwitch(change, now)
		}
		return
	}

	// The label moved away from game. Only game flows hold tunnel
	// assignments, so any existing one is released and the flow reverts
	// to pass-through.
	if id, _ := flow.Assignment(); id != "" {
		flow.Unassign()
		if p.sink != nil {
			p.sink.Publish(model.Event{
				ID:         uuid.NewString(),
				Type:       model.EventPathSwitch,
				Timestamp:  now,
				Flow:       flow.Tuple.String(),
				FromTunnel: id,
				Reason:     "reclassified",
			})
		}
	}
}

// selectable reports whether a tunnel is present and not down in the
// current health snapshot.
func (p *Pipeline) selectable(tunnelID string) bool {
	for _, t := range p.health.Snapshot() {
		if t.ID == tunnelID {
			return t.State != model.TunnelDown
		}
	}
	return false
}

// publishSwitch emits a path-switch event for an applied change.
func (p *Pipeline) publishSwitch(change *selector.Change, now time.Time) {
	if p.sink == nil {
		return
	}
	evt := model.Event{
		ID:         uuid.NewString(),
		Type:       model.EventPathSwitch,
		Timestamp:  now,
		Flow:       change.Flow.Tuple.String(),
		FromTunnel: change.From,
		Reason:     change.Reason,
	}
	if change.Decision != nil {
		evt.ToTunnel = change.Decision.TunnelID
	}
	p.sink.Publish(evt)
}

// inject writes a packet back to the capture surface. Inject failures
// are counted and logged sparsely, never retried indefinitely.
func (p *Pipeline) inject(pkt model.RawPacket) {
	if err := p.surface.Inject(pkt); err != nil {
		n := p.injectErrs.Add(1)
		if n == 1 || n%1000 == 0 {
			log.Printf("Inject error #%d (%s): %v", n, pkt.Direction, err)
		}
	}
}

// Counters returns a copy of the packet counters.
func (p *Pipeline) Counters() Counters {
	return Counters{
		Processed:  p.processed.Load(),
		Steered:    p.steered.Load(),
		Passed:     p.passed.Load(),
		Malformed:  p.malformed.Load(),
		EncapErrs:  p.encapErrs.Load(),
		InjectErrs: p.injectErrs.Load(),
	}
}
