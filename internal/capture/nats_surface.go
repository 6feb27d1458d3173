package capture

import (
	"context"
	"fmt"
	"log"
	"time"

	"PacketPilot/internal/config"
	"PacketPilot/internal/model"

	"github.com/nats-io/nats.go"
)

const surfaceBuffer = 4096

// NATSSurface bridges the engine to an out-of-process capture driver
// over NATS: pp-capture publishes raw packets per direction, and the
// engine publishes processed packets to the inject subject, where
// pp-capture writes them back to the wire. It implements
// model.CaptureSurface.
type NATSSurface struct {
	nc            *nats.Conn
	injectSubject string
	outbound      chan model.RawPacket
	inbound       chan model.RawPacket
	subs          []*nats.Subscription
}

// NewNATSSurface connects to NATS and subscribes to both capture
// directions.
func NewNATSSurface(cfg config.CaptureConfig) (*NATSSurface, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS server at %s for packet transport", cfg.NATSURL)

	s := &NATSSurface{
		nc:            nc,
		injectSubject: cfg.InjectSubject,
		outbound:      make(chan model.RawPacket, surfaceBuffer),
		inbound:       make(chan model.RawPacket, surfaceBuffer),
	}

	for _, dir := range []model.Direction{model.DirectionOutbound, model.DirectionInbound} {
		dir := dir
		ch := s.channel(dir)
		subject := DirectionSubject(cfg.CaptureSubject, dir)
		sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
			pkt := model.RawPacket{
				Data:      msg.Data,
				Direction: dir,
				Timestamp: time.Now(),
			}
			select {
			case ch <- pkt:
			default:
				// Full buffer: drop at the transport edge rather than
				// block the NATS callback.
			}
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	return s, nil
}

func (s *NATSSurface) channel(dir model.Direction) chan model.RawPacket {
	if dir == model.DirectionInbound {
		return s.inbound
	}
	return s.outbound
}

// Receive blocks for the next packet in the given direction.
func (s *NATSSurface) Receive(ctx context.Context, dir model.Direction) (model.RawPacket, error) {
	select {
	case <-ctx.Done():
		return model.RawPacket{}, ctx.Err()
	case pkt := <-s.channel(dir):
		return pkt, nil
	}
}

// Inject publishes a packet to the inject subject for its direction.
func (s *NATSSurface) Inject(pkt model.RawPacket) error {
	return s.nc.Publish(DirectionSubject(s.injectSubject, pkt.Direction), pkt.Data)
}

// Close unsubscribes and closes the NATS connection.
func (s *NATSSurface) Close() error {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// DirectionSubject derives the per-direction NATS subject from a base
// subject, e.g. "pp.packets.raw" -> "pp.packets.raw.outbound".
func DirectionSubject(base string, dir model.Direction) string {
	return base + "." + dir.String()
}
