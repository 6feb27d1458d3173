package health

import (
	"errors"
	"testing"
	"time"

	"PacketPilot/internal/config"
	"PacketPilot/internal/model"
)

var errProbeTimeout = errors.New("probe timeout")

func testMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := NewMonitor(config.HealthConfig{
		ProbeInterval:    "2s",
		ProbeTimeout:     "3s",
		WindowSize:       20,
		LatencyThreshold: "150ms",
		LossThreshold:    0.2,
		DegradedAfter:    3,
		DownAfter:        10,
		RecoverAfter:     5,
	}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}
	return m
}

func TestApplySample_SingleSpikeDoesNotDegrade(t *testing.T) {
	m := testMonitor(t)
	tun := newTunnel(model.TunnelConfig{ID: "t1"}, 20)

	m.applySample(tun, 400*time.Millisecond, nil)
	if tun.State() != model.TunnelUp {
		t.Errorf("Expected one bad probe to leave the tunnel up, got %s", tun.State())
	}
}

func TestApplySample_DegradedAfterConsecutiveBad(t *testing.T) {
	m := testMonitor(t)
	tun := newTunnel(model.TunnelConfig{ID: "t1"}, 20)

	for i := 0; i < 3; i++ {
		m.applySample(tun, 400*time.Millisecond, nil)
	}
	if tun.State() != model.TunnelDegraded {
		t.Errorf("Expected degraded after 3 consecutive bad probes, got %s", tun.State())
	}
}

func TestApplySample_DownAfterConsecutiveFailures(t *testing.T) {
	m := testMonitor(t)
	tun := newTunnel(model.TunnelConfig{ID: "t1"}, 20)

	for i := 0; i < 10; i++ {
		m.applySample(tun, 0, errProbeTimeout)
	}
	if tun.State() != model.TunnelDown {
		t.Errorf("Expected down after 10 consecutive failed probes, got %s", tun.State())
	}
}

func TestApplySample_RecoveryRequiresConsecutiveGood(t *testing.T) {
	m := testMonitor(t)
	tun := newTunnel(model.TunnelConfig{ID: "t1"}, 20)

	for i := 0; i < 10; i++ {
		m.applySample(tun, 0, errProbeTimeout)
	}
	if tun.State() != model.TunnelDown {
		t.Fatalf("Expected down, got %s", tun.State())
	}

	// Clean probes bring it back, but only after the recovery streak. The
	// early samples still carry window loss above the threshold, so the
	// good streak only starts once loss has washed out.
	for i := 0; i < 20; i++ {
		m.applySample(tun, 30*time.Millisecond, nil)
	}
	if tun.State() != model.TunnelUp {
		t.Errorf("Expected up after a sustained clean streak, got %s", tun.State())
	}
}

func TestApplySample_GoodProbeResetsBadStreak(t *testing.T) {
	m := testMonitor(t)
	tun := newTunnel(model.TunnelConfig{ID: "t1"}, 20)

	m.applySample(tun, 400*time.Millisecond, nil)
	m.applySample(tun, 400*time.Millisecond, nil)
	m.applySample(tun, 30*time.Millisecond, nil)
	m.applySample(tun, 400*time.Millisecond, nil)
	m.applySample(tun, 400*time.Millisecond, nil)

	if tun.State() != model.TunnelUp {
		t.Errorf("Expected interleaved good probes to prevent degradation, got %s", tun.State())
	}
}

func TestApplySample_OnStateChangeFires(t *testing.T) {
	m := testMonitor(t)
	tun := newTunnel(model.TunnelConfig{ID: "t1"}, 20)

	var gotFrom, gotTo model.TunnelState
	fired := 0
	m.OnStateChange = func(id string, from, to model.TunnelState) {
		fired++
		gotFrom, gotTo = from, to
	}

	for i := 0; i < 3; i++ {
		m.applySample(tun, 400*time.Millisecond, nil)
	}
	if fired != 1 {
		t.Fatalf("Expected exactly one state change callback, got %d", fired)
	}
	if gotFrom != model.TunnelUp || gotTo != model.TunnelDegraded {
		t.Errorf("Expected up -> degraded, got %s -> %s", gotFrom, gotTo)
	}
}

func TestWindowStats(t *testing.T) {
	tun := newTunnel(model.TunnelConfig{ID: "t1"}, 10)
	tun.record(20*time.Millisecond, true)
	tun.record(40*time.Millisecond, true)
	tun.record(0, false)
	tun.record(60*time.Millisecond, true)

	loss, avgRTT, jitter := tun.windowStats()
	if loss != 0.25 {
		t.Errorf("Expected 25%% loss, got %f", loss)
	}
	if avgRTT != 40*time.Millisecond {
		t.Errorf("Expected 40ms average RTT, got %s", avgRTT)
	}
	if jitter != 40*time.Millisecond {
		t.Errorf("Expected 40ms jitter spread, got %s", jitter)
	}
}

func TestScoreOrdering(t *testing.T) {
	m := testMonitor(t)

	// A faster, cleaner tunnel must always score lower.
	fast := m.score(20*time.Millisecond, 2*time.Millisecond, 0)
	slow := m.score(120*time.Millisecond, 15*time.Millisecond, 0.1)
	if fast >= slow {
		t.Errorf("Expected the faster tunnel to score lower: fast=%f slow=%f", fast, slow)
	}
}
