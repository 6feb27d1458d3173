package events

import (
	"encoding/json"
	"log"

	"PacketPilot/internal/config"
	"PacketPilot/internal/model"

	"github.com/nats-io/nats.go"
)

// Publisher emits engine events to a NATS subject as JSON. It implements
// model.EventSink. The engine never persists events itself; whatever
// listens on the subject decides what to do with them.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to NATS and returns an event publisher.
func NewPublisher(cfg config.EventsConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s for event publishing", cfg.NATSURL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish serializes an event to JSON and publishes it.
func (p *Publisher) Publish(evt model.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS event connection drained and closed.")
	}
}

// LogSink is the fallback sink used when the event bus is disabled:
// events go to the process log and nowhere else.
type LogSink struct{}

// Publish logs the event.
func (LogSink) Publish(evt model.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	log.Printf("event %s: %s", evt.Type, data)
	return nil
}

// Close is a no-op.
func (LogSink) Close() {}
