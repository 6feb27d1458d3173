package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PacketPilot/internal/capture"
	"PacketPilot/internal/config"
	"PacketPilot/internal/model"
	"PacketPilot/internal/tunnel"
)

// collectSink records published events.
type collectSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *collectSink) Publish(evt model.Event) error {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	return nil
}

func (s *collectSink) Close() {}

func (s *collectSink) count(t model.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// countingWriter tallies snapshot writes.
type countingWriter struct {
	writes   atomic.Int64
	interval time.Duration
}

func (w *countingWriter) Write(payload interface{}, timestamp string) error {
	w.writes.Add(1)
	return nil
}

func (w *countingWriter) GetInterval() time.Duration { return w.interval }

func testConfig() *config.Config {
	cfg := &config.Config{
		Profiles: []model.GameProfile{
			{Name: "xbox-live", Protocol: "udp", Ports: []model.PortRange{{From: 3074, To: 3074}}},
		},
		Tunnels: []model.TunnelConfig{
			{ID: "relay-east", Endpoint: "203.0.113.10:51820"},
			{ID: "relay-west", Endpoint: "203.0.113.20:51820"},
		},
	}
	// Fill in the defaults the YAML loader would have applied, with
	// short intervals for testing.
	applyTestDefaults(cfg)
	return cfg
}

func applyTestDefaults(cfg *config.Config) {
	cfg.Engine.EvictInterval = "100ms"
	cfg.Engine.IdleTimeout = "1s"
	cfg.Engine.NumShards = 4
	cfg.Classifier.MinSamples = 10
	cfg.Classifier.SmallPayloadBytes = 300
	cfg.Classifier.BulkPayloadBytes = 1200
	cfg.Classifier.MaxInterarrival = "100ms"
	cfg.Classifier.MaxJitter = "20ms"
	cfg.Classifier.ConfidenceThreshold = 0.8
	cfg.Health.ProbeInterval = "1s"
	cfg.Health.ProbeTimeout = "200ms"
	cfg.Health.WindowSize = 20
	cfg.Health.LatencyThreshold = "150ms"
	cfg.Health.LossThreshold = 0.2
	cfg.Health.DegradedAfter = 3
	cfg.Health.DownAfter = 10
	cfg.Health.RecoverAfter = 5
	cfg.Selector.HysteresisMargin = 0.2
	cfg.Selector.MinDwell = "30s"
	cfg.Selector.ReevalInterval = "100ms"
}

func testCoordinator(t *testing.T, sink model.EventSink, writers []model.Writer) *Coordinator {
	t.Helper()
	cfg := testConfig()
	surface := capture.NewChannelSurface(16)
	endpoint := tunnel.NewUDPEndpoint(cfg.Tunnels)

	c, err := New(cfg, surface, endpoint, sink, writers)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	return c
}

func TestCoordinator_StartStop(t *testing.T) {
	sink := &collectSink{}
	writer := &countingWriter{interval: time.Hour}
	c := testCoordinator(t, sink, []model.Writer{writer})

	if err := c.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	if err := c.Start(); err == nil {
		t.Error("Expected starting an already running session to fail")
	}

	status := c.Status()
	if !status.Running {
		t.Error("Expected status to report running")
	}
	if len(status.Tunnels) != 2 {
		t.Errorf("Expected 2 monitored tunnels, got %d", len(status.Tunnels))
	}

	c.Stop()
	// Stop twice is safe.
	c.Stop()

	if c.Status().Running {
		t.Error("Expected status to report stopped")
	}
	if sink.count(model.EventSessionStart) != 1 {
		t.Error("Expected one session start event")
	}
	if sink.count(model.EventSessionStop) != 1 {
		t.Error("Expected one session stop event")
	}
	// The final snapshot on shutdown always runs, ticker or not.
	if writer.writes.Load() < 1 {
		t.Error("Expected at least the final snapshot write")
	}
}

func TestCoordinator_UpdateGameSelection(t *testing.T) {
	sink := &collectSink{}
	c := testCoordinator(t, sink, nil)

	// Invalid update: rejected, prior config retained.
	err := c.UpdateGameSelection([]model.GameProfile{{Name: ""}})
	var vErr *config.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected a validation error, got %v", err)
	}
	if len(c.Status().Profiles) != 1 || c.Status().Profiles[0].Name != "xbox-live" {
		t.Error("Expected the prior profile set to survive a rejected update")
	}

	// Valid update takes effect.
	next := []model.GameProfile{
		{Name: "steam-games", Protocol: "udp", Ports: []model.PortRange{{From: 27015, To: 27050}}},
	}
	if err := c.UpdateGameSelection(next); err != nil {
		t.Fatalf("Failed to update game selection: %v", err)
	}
	if got := c.Status().Profiles; len(got) != 1 || got[0].Name != "steam-games" {
		t.Errorf("Expected the new profile set, got %+v", got)
	}
	if sink.count(model.EventConfigUpdate) != 1 {
		t.Error("Expected one config update event")
	}

	// Resubmitting the same set is a no-op and emits nothing.
	if err := c.UpdateGameSelection(next); err != nil {
		t.Fatalf("Idempotent update failed: %v", err)
	}
	if sink.count(model.EventConfigUpdate) != 1 {
		t.Error("Expected no extra event for an identical update")
	}
}

func TestCoordinator_UpdateTunnelSet(t *testing.T) {
	sink := &collectSink{}
	c := testCoordinator(t, sink, nil)

	// A flow pinned to a tunnel that is about to disappear.
	flow, _ := c.table.LookupOrCreate(model.FiveTuple{SrcPort: 1, DstPort: 2, Protocol: 17}, time.Now())
	flow.SetLabel(model.LabelGame, 1.0)
	flow.Assign(model.RoutingDecision{ID: "d1", FlowKey: flow.Key, TunnelID: "relay-west", At: time.Now()})

	next := []model.TunnelConfig{{ID: "relay-east", Endpoint: "203.0.113.10:51820"}}
	if err := c.UpdateTunnelSet(next); err != nil {
		t.Fatalf("Failed to update tunnel set: %v", err)
	}

	if id, _ := flow.Assignment(); id != "" {
		t.Errorf("Expected the flow to be unassigned from the removed tunnel, got '%s'", id)
	}

	// Invalid update rejected.
	if err := c.UpdateTunnelSet([]model.TunnelConfig{{ID: "x", Endpoint: "no-port"}}); err == nil {
		t.Fatal("Expected a validation error")
	}

	// Identical set is a no-op.
	if err := c.UpdateTunnelSet(next); err != nil {
		t.Fatalf("Idempotent update failed: %v", err)
	}
	if sink.count(model.EventConfigUpdate) != 1 {
		t.Errorf("Expected exactly one config update event, got %d", sink.count(model.EventConfigUpdate))
	}
}
