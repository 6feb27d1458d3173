// Package session owns the engine lifecycle: it wires the flow table,
// classifier, health monitor, selector and steering pipeline together,
// runs the housekeeping loops, and applies configuration updates without
// a restart.
package session

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"PacketPilot/internal/config"
	"PacketPilot/internal/engine/classify"
	"PacketPilot/internal/engine/flowtable"
	"PacketPilot/internal/engine/health"
	"PacketPilot/internal/engine/pipeline"
	"PacketPilot/internal/engine/selector"
	"PacketPilot/internal/metrics"
	"PacketPilot/internal/model"

	"github.com/google/uuid"
)

// tunnelUpdater is the optional endpoint capability for live tunnel set
// swaps. The UDP endpoint implements it; test fakes may not.
type tunnelUpdater interface {
	SetTunnels([]model.TunnelConfig)
}

// Coordinator drives one steering session from Start to Stop.
type Coordinator struct {
	table    *flowtable.Table
	selector *selector.Selector
	monitor  *health.Monitor
	pipeline *pipeline.Pipeline
	surface  model.CaptureSurface
	endpoint model.TunnelEndpoint
	sink     model.EventSink
	writers  []model.Writer

	evictInterval time.Duration
	idleTimeout   time.Duration

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	profiles []model.GameProfile
	tunnels  []model.TunnelConfig

	reevalKick chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup
}

// New builds a coordinator and every component it drives. Nothing runs
// until Start.
func New(
	cfg *config.Config,
	surface model.CaptureSurface,
	endpoint model.TunnelEndpoint,
	sink model.EventSink,
	writers []model.Writer,
) (*Coordinator, error) {
	evictInterval, err := time.ParseDuration(cfg.Engine.EvictInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid engine evict_interval: %w", err)
	}
	idleTimeout, err := time.ParseDuration(cfg.Engine.IdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid engine idle_timeout: %w", err)
	}
	classifier, err := classify.New(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	sel, err := selector.New(cfg.Selector)
	if err != nil {
		return nil, err
	}
	monitor, err := health.NewMonitor(cfg.Health, endpoint, sink)
	if err != nil {
		return nil, err
	}

	table := flowtable.New(cfg.Engine.NumShards)
	pipe := pipeline.New(table, classifier, sel, monitor, surface, endpoint, sink)
	pipe.SetProfiles(classify.CompileProfiles(cfg.Profiles))

	c := &Coordinator{
		table:         table,
		selector:      sel,
		monitor:       monitor,
		pipeline:      pipe,
		surface:       surface,
		endpoint:      endpoint,
		sink:          sink,
		writers:       writers,
		evictInterval: evictInterval,
		idleTimeout:   idleTimeout,
		profiles:      cfg.Profiles,
		tunnels:       cfg.Tunnels,
		reevalKick:    make(chan struct{}, 1),
	}
	// A tunnel state transition triggers re-evaluation right away so
	// failover does not wait out the periodic cycle.
	monitor.OnStateChange = func(string, model.TunnelState, model.TunnelState) {
		c.kickReevaluation()
	}
	return c, nil
}

// Start launches probing, the packet pipeline, housekeeping and the
// snapshot writers.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("session already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	c.monitor.Start(ctx, c.tunnels)
	c.pipeline.Start(ctx)

	c.wg.Add(1)
	go c.runHousekeeper()
	for _, w := range c.writers {
		c.wg.Add(1)
		go c.runSnapshotter(w)
	}

	c.publish(model.Event{
		Type:   model.EventSessionStart,
		Detail: fmt.Sprintf("%d tunnels, %d game profiles", len(c.tunnels), len(c.profiles)),
	})
	log.Printf("Session started: %d tunnels, %d game profiles, %d writers",
		len(c.tunnels), len(c.profiles), len(c.writers))
	return nil
}

// Stop winds the session down in order: stop pulling packets and let
// both direction loops drain, release the capture surface, tear down the
// probes, then flush a final snapshot through every writer.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	log.Println("Stopping session...")
	cancel()
	c.pipeline.Wait()
	if err := c.surface.Close(); err != nil {
		log.Printf("Error closing capture surface: %v", err)
	}
	c.monitor.Stop()

	close(done)
	c.wg.Wait()

	c.publish(model.Event{Type: model.EventSessionStop})
	log.Println("Session stopped.")
}

// UpdateGameSelection swaps the active game profiles. Invalid profiles
// are rejected and the previous set stays in force; resubmitting the
// current set is a no-op.
func (c *Coordinator) UpdateGameSelection(profiles []model.GameProfile) error {
	if err := config.ValidateProfiles(profiles); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if reflect.DeepEqual(profiles, c.profiles) {
		return nil
	}
	c.profiles = profiles
	c.pipeline.SetProfiles(classify.CompileProfiles(profiles))

	c.publish(model.Event{
		Type:   model.EventConfigUpdate,
		Detail: fmt.Sprintf("game selection: %d profiles", len(profiles)),
	})
	log.Printf("Game selection updated: %d profiles", len(profiles))
	return nil
}

// UpdateTunnelSet swaps the tunnel set. Flows assigned to a removed
// tunnel are unassigned and picked up by the immediate re-evaluation.
func (c *Coordinator) UpdateTunnelSet(tunnels []model.TunnelConfig) error {
	if err := config.ValidateTunnels(tunnels); err != nil {
		return err
	}

	c.mu.Lock()
	if reflect.DeepEqual(tunnels, c.tunnels) {
		c.mu.Unlock()
		return nil
	}
	c.tunnels = tunnels
	c.mu.Unlock()

	if u, ok := c.endpoint.(tunnelUpdater); ok {
		u.SetTunnels(tunnels)
	}
	c.monitor.SetTunnels(tunnels)

	keep := make(map[string]struct{}, len(tunnels))
	for _, t := range tunnels {
		keep[t.ID] = struct{}{}
	}
	unassigned := 0
	c.table.Range(func(f *flowtable.Flow) bool {
		if id, _ := f.Assignment(); id != "" {
			if _, ok := keep[id]; !ok {
				f.Unassign()
				unassigned++
			}
		}
		return true
	})
	if unassigned > 0 {
		log.Printf("Unassigned %d flows from removed tunnels", unassigned)
	}
	c.kickReevaluation()

	c.publish(model.Event{
		Type:   model.EventConfigUpdate,
		Detail: fmt.Sprintf("tunnel set: %d tunnels", len(tunnels)),
	})
	log.Printf("Tunnel set updated: %d tunnels", len(tunnels))
	return nil
}

// kickReevaluation requests an immediate selector pass. Coalesces when
// one is already pending.
func (c *Coordinator) kickReevaluation() {
	select {
	case c.reevalKick <- struct{}{}:
	default:
	}
}

// runHousekeeper drives flow eviction and periodic path re-evaluation.
func (c *Coordinator) runHousekeeper() {
	defer c.wg.Done()
	evictTicker := time.NewTicker(c.evictInterval)
	defer evictTicker.Stop()
	reevalTicker := time.NewTicker(c.selector.ReevalInterval())
	defer reevalTicker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-evictTicker.C:
			evicted := c.table.EvictIdle(time.Now(), c.idleTimeout)
			if len(evicted) > 0 {
				log.Printf("Evicted %d idle flows, %d remain", len(evicted), c.table.Len())
			}
		case <-reevalTicker.C:
			c.reevaluate()
		case <-c.reevalKick:
			c.reevaluate()
		}
	}
}

// reevaluate runs one selector pass over all game flows and publishes a
// path-switch event per applied change.
func (c *Coordinator) reevaluate() {
	now := time.Now()
	changes := c.selector.Reevaluate(c.table, c.monitor.Snapshot(), now)
	for _, change := range changes {
		evt := model.Event{
			Type:       model.EventPathSwitch,
			Timestamp:  now,
			Flow:       change.Flow.Tuple.String(),
			FromTunnel: change.From,
			Reason:     change.Reason,
		}
		if change.Decision != nil {
			evt.ToTunnel = change.Decision.TunnelID
		}
		c.publish(evt)
	}
	if len(changes) > 0 {
		log.Printf("Re-evaluation moved %d flows", len(changes))
	}
}

// runSnapshotter persists engine state through one writer on its own
// interval, plus a final snapshot on shutdown.
func (c *Coordinator) runSnapshotter(w model.Writer) {
	defer c.wg.Done()
	interval := w.GetInterval()
	log.Printf("Starting snapshotter with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeSnapshot(w)
		case <-c.done:
			log.Println("Snapshotter received stop signal, writing final snapshot.")
			c.writeSnapshot(w)
			return
		}
	}
}

func (c *Coordinator) writeSnapshot(w model.Writer) {
	snapshot := metrics.Snapshot{
		Flows:    c.table.Records(),
		Tunnels:  c.monitor.Snapshot(),
		Counters: c.pipeline.Counters(),
	}
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	if err := w.Write(snapshot, timestamp); err != nil {
		log.Printf("Error writing snapshot: %v", err)
	}
}

// publish emits one event with identity and timestamp filled in.
func (c *Coordinator) publish(evt model.Event) {
	if c.sink == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	c.sink.Publish(evt)
}

// Status is the coordinator's point-in-time view for the control API.
type Status struct {
	Running  bool                 `json:"running"`
	Flows    int                  `json:"flows"`
	Counters pipeline.Counters    `json:"counters"`
	Tunnels  []model.TunnelHealth `json:"tunnels"`
	Profiles []model.GameProfile  `json:"profiles"`
}

// Status reports the current session state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	running := c.running
	profiles := c.profiles
	c.mu.Unlock()

	return Status{
		Running:  running,
		Flows:    c.table.Len(),
		Counters: c.pipeline.Counters(),
		Tunnels:  c.monitor.Snapshot(),
		Profiles: profiles,
	}
}

// Flows returns a snapshot of tracked flows for the control API.
func (c *Coordinator) Flows() []flowtable.FlowRecord {
	return c.table.Records()
}
