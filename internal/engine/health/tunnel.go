package health

import (
	"sync"
	"time"

	"PacketPilot/internal/model"
)

// sample is one probe outcome. A failed probe is kept as a lost sample
// so the loss ratio reflects it.
type sample struct {
	rtt time.Duration
	ok  bool
}

// Tunnel holds the measured state for one candidate tunnel. Health
// fields are mutated only by the monitor; everyone else reads immutable
// TunnelHealth snapshots.
type Tunnel struct {
	cfg model.TunnelConfig

	mu      sync.Mutex
	samples []sample
	cursor  int
	count   int
	state   model.TunnelState

	consecutiveBad  int
	consecutiveFail int
	consecutiveGood int
}

func newTunnel(cfg model.TunnelConfig, windowSize int) *Tunnel {
	return &Tunnel{
		cfg:     cfg,
		samples: make([]sample, windowSize),
		state:   model.TunnelUp,
	}
}

// ID returns the tunnel's stable identifier.
func (t *Tunnel) ID() string { return t.cfg.ID }

// State returns the current availability state.
func (t *Tunnel) State() model.TunnelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// record stores one probe outcome in the circular window.
func (t *Tunnel) record(rtt time.Duration, ok bool) {
	t.samples[t.cursor] = sample{rtt: rtt, ok: ok}
	t.cursor = (t.cursor + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
}

// windowStats computes loss, average RTT and jitter over the window.
// Jitter is the max-min spread of successful probes.
func (t *Tunnel) windowStats() (loss float64, avgRTT, jitter time.Duration) {
	if t.count == 0 {
		return 0, 0, 0
	}
	var sum, minRTT, maxRTT time.Duration
	good, lost := 0, 0
	first := true
	for i := 0; i < t.count; i++ {
		s := t.samples[i]
		if !s.ok {
			lost++
			continue
		}
		sum += s.rtt
		good++
		if first || s.rtt < minRTT {
			minRTT = s.rtt
		}
		if first || s.rtt > maxRTT {
			maxRTT = s.rtt
		}
		first = false
	}
	loss = float64(lost) / float64(t.count)
	if good == 0 {
		return loss, 0, 0
	}
	return loss, sum / time.Duration(good), maxRTT - minRTT
}
