package model

import "time"

// EventType enumerates the structured events the engine emits.
type EventType string

const (
	EventFlowClassified    EventType = "flow_classified"
	EventTunnelStateChange EventType = "tunnel_state_change"
	EventPathSwitch        EventType = "path_switch"
	EventSessionStart      EventType = "session_start"
	EventSessionStop       EventType = "session_stop"
	EventConfigUpdate      EventType = "config_update"
)

// Event is one structured observability record. The engine publishes
// events and never persists them itself; sinks decide what to do.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Flow       string  `json:"flow,omitempty"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	Tunnel     string `json:"tunnel,omitempty"`
	FromState  string `json:"fromState,omitempty"`
	ToState    string `json:"toState,omitempty"`
	FromTunnel string `json:"fromTunnel,omitempty"`
	ToTunnel   string `json:"toTunnel,omitempty"`

	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}
