package model

import (
	"context"
	"time"
)

// CaptureSurface is the engine's only source and sink of packets. The OS
// capture driver itself lives outside the engine; implementations bridge
// to it (NATS transport in production, channels in tests).
type CaptureSurface interface {
	// Receive blocks until the next captured packet for the given
	// direction is available or the context is cancelled.
	Receive(ctx context.Context, dir Direction) (RawPacket, error)

	// Inject writes a packet back to the wire. Failures are reported to
	// the caller, which counts and logs them; Inject is never retried
	// indefinitely.
	Inject(pkt RawPacket) error

	Close() error
}

// TunnelEndpoint abstracts the VPN layer. The engine decides which tunnel
// carries a packet; the endpoint handles encapsulation and probing. Key
// material and handshake state are entirely the endpoint's business.
type TunnelEndpoint interface {
	// Encapsulate wraps a raw packet for transmission via the given tunnel.
	Encapsulate(pkt []byte, tunnelID string) ([]byte, error)

	// Probe measures one round-trip to the tunnel's remote end.
	Probe(ctx context.Context, tunnelID string) (time.Duration, error)
}

// EventSink receives structured engine events (flow classified, tunnel
// state change, path switch) for external logging and telemetry.
type EventSink interface {
	Publish(evt Event) error
	Close()
}

// Writer defines a generic interface for persisting periodic engine
// snapshots (flow metrics, tunnel health) to a store.
type Writer interface {
	// Write takes a snapshot payload and persists it. The implementation
	// is expected to know how to handle the payload type it receives.
	Write(payload interface{}, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration
}
