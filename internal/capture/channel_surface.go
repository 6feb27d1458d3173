package capture

import (
	"context"

	"PacketPilot/internal/model"
)

// ChannelSurface is an in-memory capture surface. It backs the engine in
// tests and when the capture driver runs in-process.
type ChannelSurface struct {
	outbound chan model.RawPacket
	inbound  chan model.RawPacket
	injected chan model.RawPacket
}

// NewChannelSurface creates a channel-backed surface with the given
// per-direction buffer size.
func NewChannelSurface(buffer int) *ChannelSurface {
	return &ChannelSurface{
		outbound: make(chan model.RawPacket, buffer),
		inbound:  make(chan model.RawPacket, buffer),
		injected: make(chan model.RawPacket, buffer),
	}
}

// Deliver feeds a captured packet into the surface.
func (s *ChannelSurface) Deliver(pkt model.RawPacket) {
	if pkt.Direction == model.DirectionInbound {
		s.inbound <- pkt
		return
	}
	s.outbound <- pkt
}

// Receive blocks for the next packet in the given direction.
func (s *ChannelSurface) Receive(ctx context.Context, dir model.Direction) (model.RawPacket, error) {
	ch := s.outbound
	if dir == model.DirectionInbound {
		ch = s.inbound
	}
	select {
	case <-ctx.Done():
		return model.RawPacket{}, ctx.Err()
	case pkt := <-ch:
		return pkt, nil
	}
}

// Inject records the packet on the injected channel.
func (s *ChannelSurface) Inject(pkt model.RawPacket) error {
	s.injected <- pkt
	return nil
}

// Injected exposes the stream of packets the engine wrote back.
func (s *ChannelSurface) Injected() <-chan model.RawPacket {
	return s.injected
}

// Close is a no-op; channels are left open for late readers.
func (s *ChannelSurface) Close() error { return nil }
