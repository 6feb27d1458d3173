package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"PacketPilot/internal/config"
	"PacketPilot/internal/model"

	"github.com/google/uuid"
)

// Score weights: latency dominates, then jitter, then loss.
const (
	weightLatency = 0.5
	weightJitter  = 0.3
	weightLoss    = 0.2
)

// Monitor probes every configured tunnel on a fixed cadence, one
// independent goroutine per tunnel, and maintains a comparable health
// score plus the up/degraded/down state machine. Probe failures count
// toward degradation and never crash the monitor.
type Monitor struct {
	endpoint model.TunnelEndpoint
	sink     model.EventSink

	probeInterval    time.Duration
	probeTimeout     time.Duration
	windowSize       int
	latencyThreshold time.Duration
	lossThreshold    float64
	degradedAfter    int
	downAfter        int
	recoverAfter     int

	// OnStateChange, when set before Start, is invoked after every
	// state transition. The coordinator uses it to trigger an immediate
	// path re-evaluation instead of waiting for the next cycle.
	OnStateChange func(tunnelID string, from, to model.TunnelState)

	mu      sync.Mutex
	ctx     context.Context
	tunnels map[string]*runner
	wg      sync.WaitGroup
}

// runner couples a tunnel with its probe goroutine's cancel handle.
type runner struct {
	tunnel *Tunnel
	cancel context.CancelFunc
}

// NewMonitor builds a monitor from config. Probing starts on Start and
// adapts to tunnel set changes via SetTunnels.
func NewMonitor(cfg config.HealthConfig, endpoint model.TunnelEndpoint, sink model.EventSink) (*Monitor, error) {
	probeInterval, err := time.ParseDuration(cfg.ProbeInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid health probe_interval: %w", err)
	}
	probeTimeout, err := time.ParseDuration(cfg.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid health probe_timeout: %w", err)
	}
	latencyThreshold, err := time.ParseDuration(cfg.LatencyThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid health latency_threshold: %w", err)
	}
	return &Monitor{
		endpoint:         endpoint,
		sink:             sink,
		probeInterval:    probeInterval,
		probeTimeout:     probeTimeout,
		windowSize:       cfg.WindowSize,
		latencyThreshold: latencyThreshold,
		lossThreshold:    cfg.LossThreshold,
		degradedAfter:    cfg.DegradedAfter,
		downAfter:        cfg.DownAfter,
		recoverAfter:     cfg.RecoverAfter,
		tunnels:          make(map[string]*runner),
	}, nil
}

// Start begins probing the given tunnel set.
func (m *Monitor) Start(ctx context.Context, tunnels []model.TunnelConfig) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	m.SetTunnels(tunnels)
	log.Printf("Health monitor started with %d tunnels, probing every %s", len(tunnels), m.probeInterval)
}

// Stop cancels all probe loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for id, r := range m.tunnels {
		r.cancel()
		delete(m.tunnels, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
	log.Println("Health monitor stopped.")
}

// SetTunnels reconciles the probed set against a new configuration:
// new tunnels get a probe loop, removed tunnels have theirs cancelled.
// Surviving tunnels keep their measurement history.
func (m *Monitor) SetTunnels(tunnels []model.TunnelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return
	}

	want := make(map[string]model.TunnelConfig, len(tunnels))
	for _, cfg := range tunnels {
		want[cfg.ID] = cfg
	}

	for id, r := range m.tunnels {
		if _, keep := want[id]; !keep {
			r.cancel()
			delete(m.tunnels, id)
			log.Printf("Tunnel '%s' removed from health monitoring", id)
		}
	}

	for id, cfg := range want {
		if _, exists := m.tunnels[id]; exists {
			continue
		}
		probeCtx, cancel := context.WithCancel(m.ctx)
		t := newTunnel(cfg, m.windowSize)
		m.tunnels[id] = &runner{tunnel: t, cancel: cancel}
		m.wg.Add(1)
		go m.probeLoop(probeCtx, t)
	}
}

// probeLoop drives one tunnel's probes until cancelled.
func (m *Monitor) probeLoop(ctx context.Context, t *Tunnel) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
			rtt, err := m.endpoint.Probe(probeCtx, t.ID())
			cancel()
			m.applySample(t, rtt, err)
		}
	}
}

// applySample records one probe outcome and advances the state machine.
// Transitions require consecutive evidence in both directions so a
// single spike or a single clean probe never flips the state.
func (m *Monitor) applySample(t *Tunnel, rtt time.Duration, err error) {
	t.mu.Lock()
	prev := t.state

	if err != nil {
		t.record(0, false)
		t.consecutiveFail++
		t.consecutiveBad++
		t.consecutiveGood = 0
	} else {
		t.record(rtt, true)
		t.consecutiveFail = 0
		loss, _, _ := t.windowStats()
		if rtt > m.latencyThreshold || loss > m.lossThreshold {
			t.consecutiveBad++
			t.consecutiveGood = 0
		} else {
			t.consecutiveGood++
			t.consecutiveBad = 0
		}
	}

	switch {
	case t.consecutiveFail >= m.downAfter:
		t.state = model.TunnelDown
	case t.consecutiveGood >= m.recoverAfter:
		t.state = model.TunnelUp
	case t.consecutiveBad >= m.degradedAfter && t.state == model.TunnelUp:
		t.state = model.TunnelDegraded
	}

	next := t.state
	t.mu.Unlock()

	if next != prev {
		log.Printf("Tunnel '%s' state change: %s -> %s", t.ID(), prev, next)
		if m.OnStateChange != nil {
			m.OnStateChange(t.ID(), prev, next)
		}
		if m.sink != nil {
			m.sink.Publish(model.Event{
				ID:        uuid.NewString(),
				Type:      model.EventTunnelStateChange,
				Timestamp: time.Now(),
				Tunnel:    t.ID(),
				FromState: prev.String(),
				ToState:   next.String(),
			})
		}
	}
}

// Snapshot returns an immutable health view of every monitored tunnel,
// suitable for the selector and the API without touching monitor locks
// afterwards.
func (m *Monitor) Snapshot() []model.TunnelHealth {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.tunnels))
	for _, r := range m.tunnels {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	out := make([]model.TunnelHealth, 0, len(runners))
	for _, r := range runners {
		t := r.tunnel
		t.mu.Lock()
		loss, avgRTT, jitter := t.windowStats()
		state := t.state
		count := t.count
		t.mu.Unlock()

		out = append(out, model.TunnelHealth{
			ID:      t.ID(),
			State:   state,
			Score:   m.score(avgRTT, jitter, loss),
			Latency: avgRTT,
			Jitter:  jitter,
			Loss:    loss,
			Samples: count,
		})
	}
	return out
}

// score folds latency, jitter and loss into one comparable value.
// Each term is normalized against its threshold; lower is better.
func (m *Monitor) score(latency, jitter time.Duration, loss float64) float64 {
	latNorm := float64(latency) / float64(m.latencyThreshold)
	jitNorm := float64(jitter) / float64(m.latencyThreshold)
	lossNorm := loss
	if m.lossThreshold > 0 {
		lossNorm = loss / m.lossThreshold
	}
	return weightLatency*latNorm + weightJitter*jitNorm + weightLoss*lossNorm
}
