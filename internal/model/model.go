package model

import (
	"fmt"
	"net"
	"time"
)

// FiveTuple represents the 5-tuple identifying a network flow.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// FlowKey is a compact, comparable form of a FiveTuple, suitable as a map key.
type FlowKey struct {
	SrcIP    [16]byte
	DstIP    [16]byte
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Key converts the tuple into its comparable map-key form.
// IPs are stored in 16-byte form so IPv4 and IPv6 share one layout.
func (ft FiveTuple) Key() FlowKey {
	var k FlowKey
	copy(k.SrcIP[:], ft.SrcIP.To16())
	copy(k.DstIP[:], ft.DstIP.To16())
	k.SrcPort = ft.SrcPort
	k.DstPort = ft.DstPort
	k.Protocol = ft.Protocol
	return k
}

func (ft FiveTuple) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", ft.SrcIP, ft.SrcPort, ft.DstIP, ft.DstPort, ft.Protocol)
}

// String renders the key in the same form as its originating FiveTuple.
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d",
		net.IP(k.SrcIP[:]), k.SrcPort, net.IP(k.DstIP[:]), k.DstPort, k.Protocol)
}

// Direction marks which side of the capture surface a packet was seen on.
type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

func (d Direction) String() string {
	if d == DirectionInbound {
		return "inbound"
	}
	return "outbound"
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp  time.Time
	FiveTuple  FiveTuple
	Length     int
	PayloadLen int
	Direction  Direction
}

// RawPacket is a captured packet as handed over by the capture surface.
type RawPacket struct {
	Data      []byte
	Direction Direction
	Timestamp time.Time
}

// Label is the classification assigned to a flow.
type Label uint8

const (
	LabelUnknown Label = iota
	LabelGame
	LabelBulk
)

func (l Label) String() string {
	switch l {
	case LabelGame:
		return "game"
	case LabelBulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// TunnelState is the availability state of a tunnel.
type TunnelState uint8

const (
	TunnelUp TunnelState = iota
	TunnelDegraded
	TunnelDown
)

func (s TunnelState) String() string {
	switch s {
	case TunnelUp:
		return "up"
	case TunnelDegraded:
		return "degraded"
	default:
		return "down"
	}
}

// MarshalText renders the state as its name in JSON and YAML output.
func (s TunnelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TunnelConfig describes one candidate tunnel. The endpoint descriptor is
// opaque to the engine; it is handed to the TunnelEndpoint implementation.
type TunnelConfig struct {
	ID       string `yaml:"id" json:"id"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// PortRange is an inclusive range of transport ports.
type PortRange struct {
	From uint16 `yaml:"from" json:"from"`
	To   uint16 `yaml:"to" json:"to"`
}

// Contains reports whether port falls inside the range.
func (r PortRange) Contains(port uint16) bool {
	return port >= r.From && port <= r.To
}

// GameProfile is a static matching rule set for one game. Immutable once
// loaded; multiple profiles may be active at a time.
type GameProfile struct {
	Name     string      `yaml:"name" json:"name"`
	Protocol string      `yaml:"protocol" json:"protocol"` // "tcp", "udp" or "any"
	Ports    []PortRange `yaml:"ports" json:"ports"`
	DstHints []string    `yaml:"dst_hints,omitempty" json:"dstHints,omitempty"` // CIDR prefixes
}

// TunnelHealth is an immutable view of one tunnel's measured health,
// published by the health monitor for the selector and the API.
type TunnelHealth struct {
	ID      string        `json:"id"`
	State   TunnelState   `json:"state"`
	Score   float64       `json:"score"`
	Latency time.Duration `json:"latency"`
	Jitter  time.Duration `json:"jitter"`
	Loss    float64       `json:"loss"`
	Samples int           `json:"samples"`
}

// FlowStats is the bounded-window view of a flow the classifier consumes.
// It is a value copy; producing one never holds flow locks across calls.
type FlowStats struct {
	Protocol     uint8
	DstIP        net.IP
	DstPort      uint16
	Samples      int
	AvgPayload   float64
	AvgInterval  time.Duration
	JitterStddev time.Duration
	PacketCount  uint64
}

// RoutingDecision is the ephemeral output of the path selector for one flow.
type RoutingDecision struct {
	ID       string
	FlowKey  FlowKey
	TunnelID string
	At       time.Time
	Reason   string
}
