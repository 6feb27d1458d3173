package metrics

import (
	"context"
	"fmt"
	"log"
	"time"

	"PacketPilot/internal/config"
	"PacketPilot/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createFlowTableStatement = `
CREATE TABLE IF NOT EXISTS flow_metrics (
    Timestamp   DateTime,
    Tuple       String,
    Label       String,
    Tunnel      String,
    PacketCount UInt64,
    ByteCount   UInt64,
    CreatedAt   DateTime,
    LastSeen    DateTime
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Label, Timestamp);
`

const createTunnelTableStatement = `
CREATE TABLE IF NOT EXISTS tunnel_health (
    Timestamp DateTime,
    Tunnel    String,
    State     String,
    Score     Float64,
    LatencyMs Float64,
    JitterMs  Float64,
    Loss      Float64,
    Samples   UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Tunnel, Timestamp);
`

// ClickHouseWriter persists engine snapshots to ClickHouse. It
// implements the model.Writer interface.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (model.Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range []string{createFlowTableStatement, createTunnelTableStatement} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// Write inserts snapshot data into the flow_metrics and tunnel_health tables.
func (w *ClickHouseWriter) Write(payload interface{}, timestamp string) error {
	snapshot, ok := payload.(Snapshot)
	if !ok {
		return fmt.Errorf("invalid payload type for ClickHouse Writer: expected metrics.Snapshot, got %T", payload)
	}

	snapshotTime, _ := time.Parse("2006-01-02_15-04-05", timestamp)

	if err := w.writeFlows(snapshotTime, snapshot); err != nil {
		return err
	}
	return w.writeTunnels(snapshotTime, snapshot.Tunnels)
}

func (w *ClickHouseWriter) writeFlows(snapshotTime time.Time, snapshot Snapshot) error {
	if len(snapshot.Flows) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO flow_metrics")
	if err != nil {
		return fmt.Errorf("failed to prepare flow batch: %w", err)
	}
	for _, f := range snapshot.Flows {
		err = batch.Append(
			snapshotTime,
			f.Tuple,
			f.Label,
			f.TunnelID,
			f.Packets,
			f.Bytes,
			f.CreatedAt,
			f.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send flow batch: %w", err)
	}
	log.Printf("Wrote %d flows to ClickHouse", len(snapshot.Flows))
	return nil
}

func (w *ClickHouseWriter) writeTunnels(snapshotTime time.Time, tunnels []model.TunnelHealth) error {
	if len(tunnels) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO tunnel_health")
	if err != nil {
		return fmt.Errorf("failed to prepare tunnel batch: %w", err)
	}
	for _, t := range tunnels {
		err = batch.Append(
			snapshotTime,
			t.ID,
			t.State.String(),
			t.Score,
			float64(t.Latency)/float64(time.Millisecond),
			float64(t.Jitter)/float64(time.Millisecond),
			t.Loss,
			uint32(t.Samples),
		)
		if err != nil {
			return fmt.Errorf("failed to append tunnel to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send tunnel batch: %w", err)
	}
	return nil
}
