package metrics

import (
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PacketPilot/internal/engine/flowtable"
	"PacketPilot/internal/engine/pipeline"
	"PacketPilot/internal/model"
)

func testSnapshot() Snapshot {
	now := time.Now()
	return Snapshot{
		Flows: []flowtable.FlowRecord{
			{Tuple: "192.168.0.10:40000->203.0.113.50:3074/17", Label: "game", TunnelID: "relay-east", Packets: 120, Bytes: 9600, CreatedAt: now, LastSeen: now},
			{Tuple: "192.168.0.10:40001->203.0.113.60:443/6", Label: "bulk", Packets: 4000, Bytes: 5600000, CreatedAt: now, LastSeen: now},
		},
		Tunnels: []model.TunnelHealth{
			{ID: "relay-east", State: model.TunnelUp, Score: 0.3, Latency: 25 * time.Millisecond, Samples: 20},
		},
		Counters: pipeline.Counters{Processed: 4124, Steered: 120, Passed: 4000, Malformed: 4},
	}
}

func TestGobWriter_Write(t *testing.T) {
	root := t.TempDir()
	w := NewGobWriter(root, 30*time.Second)

	timestamp := "2026-08-31_12-00-00"
	if err := w.Write(testSnapshot(), timestamp); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}

	dir := filepath.Join(root, timestamp)

	// Flows round-trip through gob.
	f, err := os.Open(filepath.Join(dir, "flows.dat"))
	if err != nil {
		t.Fatalf("Failed to open flows file: %v", err)
	}
	defer f.Close()
	var flows []flowtable.FlowRecord
	if err := gob.NewDecoder(f).Decode(&flows); err != nil {
		t.Fatalf("Failed to decode flows: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("Expected 2 flows, got %d", len(flows))
	}
	if flows[0].TunnelID != "relay-east" {
		t.Errorf("Expected tunnel 'relay-east', got '%s'", flows[0].TunnelID)
	}

	// Summary carries the aggregate counts.
	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("Failed to unmarshal summary: %v", err)
	}
	if summary.TotalFlows != 2 || summary.GameFlows != 1 {
		t.Errorf("Expected 2 flows with 1 game flow, got %d/%d", summary.TotalFlows, summary.GameFlows)
	}
	if summary.Steered != 120 {
		t.Errorf("Expected 120 steered packets, got %d", summary.Steered)
	}

	if _, err := os.Stat(filepath.Join(dir, "tunnels.dat")); err != nil {
		t.Errorf("Expected a tunnels file: %v", err)
	}
}

func TestGobWriter_RejectsWrongPayload(t *testing.T) {
	w := NewGobWriter(t.TempDir(), time.Second)
	if err := w.Write("not a snapshot", "2026-08-31_12-00-00"); err == nil {
		t.Fatal("Expected an error for a non-snapshot payload")
	}
}

func TestGobWriter_Interval(t *testing.T) {
	w := NewGobWriter(t.TempDir(), 42*time.Second)
	if w.GetInterval() != 42*time.Second {
		t.Errorf("Expected 42s interval, got %s", w.GetInterval())
	}
}
