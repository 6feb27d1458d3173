package metrics

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"PacketPilot/internal/model"
)

// SummaryData holds the metadata for a snapshot, internal to the writer.
type SummaryData struct {
	TotalFlows int    `json:"total_flows"`
	GameFlows  int    `json:"game_flows"`
	Tunnels    int    `json:"tunnels"`
	Steered    uint64 `json:"steered"`
	PassedThru uint64 `json:"passed_through"`
	Malformed  uint64 `json:"malformed"`
	Timestamp  string `json:"timestamp"`
}

// GobWriter persists engine snapshots to disk in gob format. It
// implements the model.Writer interface.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new on-disk snapshot writer.
func NewGobWriter(rootPath string, interval time.Duration) model.Writer {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write serializes one snapshot into a timestamped directory.
func (w *GobWriter) Write(payload interface{}, timestamp string) error {
	snapshot, ok := payload.(Snapshot)
	if !ok {
		return fmt.Errorf("invalid payload type for GobWriter: expected metrics.Snapshot, got %T", payload)
	}

	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := writeGob(filepath.Join(snapshotDir, "flows.dat"), snapshot.Flows); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(snapshotDir, "tunnels.dat"), snapshot.Tunnels); err != nil {
		return err
	}

	gameFlows := 0
	for _, f := range snapshot.Flows {
		if f.Label == "game" {
			gameFlows++
		}
	}
	summary := SummaryData{
		TotalFlows: len(snapshot.Flows),
		GameFlows:  gameFlows,
		Tunnels:    len(snapshot.Tunnels),
		Steered:    snapshot.Counters.Steered,
		PassedThru: snapshot.Counters.Passed,
		Malformed:  snapshot.Counters.Malformed,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	summaryFile, err := os.Create(filepath.Join(snapshotDir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	return nil
}

func writeGob(path string, v interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("failed to encode gob for '%s': %w", path, err)
	}
	return nil
}
