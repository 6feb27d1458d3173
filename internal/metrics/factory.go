package metrics

import (
	"fmt"
	"log"
	"time"

	"PacketPilot/internal/config"
	"PacketPilot/internal/model"
)

// NewWriters instantiates every enabled writer from config.
func NewWriters(cfg config.MetricsConfig) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		interval, err := time.ParseDuration(def.SnapshotInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot_interval for writer '%s': %w", def.Type, err)
		}

		switch def.Type {
		case "gob":
			writers = append(writers, NewGobWriter(def.Gob.RootPath, interval))
			log.Printf("Initialized gob writer at '%s'", def.Gob.RootPath)
		case "clickhouse":
			w, err := NewClickHouseWriter(def.ClickHouse, interval)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize clickhouse writer: %w", err)
			}
			writers = append(writers, w)
		default:
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}
	}
	return writers, nil
}
