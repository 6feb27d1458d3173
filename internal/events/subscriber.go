package events

import (
	"encoding/json"
	"log"

	"PacketPilot/internal/config"
	"PacketPilot/internal/model"

	"github.com/nats-io/nats.go"
)

// Handler processes one received engine event.
type Handler func(evt model.Event)

// Subscriber consumes engine events from NATS, for diagnostic tooling
// and external telemetry collectors.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber connects to NATS and returns an event subscriber.
func NewSubscriber(cfg config.EventsConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s for event subscription", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes and dispatches incoming events to the handler.
func (s *Subscriber) Start(handler Handler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var evt model.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Printf("Error unmarshalling event: %v", err)
			return
		}
		handler(evt)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for events...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
