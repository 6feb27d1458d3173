package tunnel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"PacketPilot/internal/model"
)

// Frame layout: 2-byte magic, 1-byte version, 1-byte id length, tunnel
// id bytes, then the original packet.
var frameMagic = [2]byte{'P', 'P'}

const frameVersion = 1

// ErrUnknownTunnel is returned when encapsulating for a tunnel id that
// is not part of the current set.
var ErrUnknownTunnel = errors.New("unknown tunnel id")

// UDPEndpoint is a model.TunnelEndpoint that frames packets for UDP
// transport to each tunnel's remote end and probes endpoints with a
// minimal DNS query. It carries no key material and no handshake state;
// the VPN layer behind the endpoint address owns all of that.
type UDPEndpoint struct {
	mu        sync.RWMutex
	endpoints map[string]string // tunnel id -> host:port
}

// NewUDPEndpoint builds an endpoint for the given tunnel set.
func NewUDPEndpoint(tunnels []model.TunnelConfig) *UDPEndpoint {
	e := &UDPEndpoint{endpoints: make(map[string]string)}
	e.SetTunnels(tunnels)
	return e
}

// SetTunnels replaces the tunnel set.
func (e *UDPEndpoint) SetTunnels(tunnels []model.TunnelConfig) {
	endpoints := make(map[string]string, len(tunnels))
	for _, t := range tunnels {
		endpoints[t.ID] = t.Endpoint
	}
	e.mu.Lock()
	e.endpoints = endpoints
	e.mu.Unlock()
}

// Encapsulate wraps a raw packet in the tunnel frame.
func (e *UDPEndpoint) Encapsulate(pkt []byte, tunnelID string) ([]byte, error) {
	e.mu.RLock()
	_, ok := e.endpoints[tunnelID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownTunnel, tunnelID)
	}
	if len(tunnelID) > 255 {
		return nil, fmt.Errorf("tunnel id too long: %d bytes", len(tunnelID))
	}

	framed := make([]byte, 0, 4+len(tunnelID)+len(pkt))
	framed = append(framed, frameMagic[0], frameMagic[1], frameVersion, byte(len(tunnelID)))
	framed = append(framed, tunnelID...)
	framed = append(framed, pkt...)
	return framed, nil
}

// Probe measures one round-trip to the tunnel's remote end by sending a
// minimal DNS query and waiting for any reply. The context carries the
// probe timeout.
func (e *UDPEndpoint) Probe(ctx context.Context, tunnelID string) (time.Duration, error) {
	e.mu.RLock()
	addr, ok := e.endpoints[tunnelID]
	e.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: '%s'", ErrUnknownTunnel, tunnelID)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	query := buildDNSQuery()
	start := time.Now()
	if _, err := conn.Write(query); err != nil {
		return 0, err
	}
	buf := make([]byte, 512)
	if _, err := conn.Read(buf); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// buildDNSQuery constructs a minimal DNS A query for "." (root zone).
func buildDNSQuery() []byte {
	buf := make([]byte, 17)
	// Transaction ID (random)
	binary.BigEndian.PutUint16(buf[0:2], uint16(rand.Intn(0xFFFF)))
	// Flags: standard query, recursion desired
	binary.BigEndian.PutUint16(buf[2:4], 0x0100)
	// Questions: 1
	binary.BigEndian.PutUint16(buf[4:6], 1)
	// QNAME: root "." = single 0x00 byte
	buf[12] = 0x00
	// QTYPE: A (1)
	binary.BigEndian.PutUint16(buf[13:15], 1)
	// QCLASS: IN (1)
	binary.BigEndian.PutUint16(buf[15:17], 1)
	return buf
}

// Decapsulate parses a tunnel frame back into (tunnel id, packet). Used
// by diagnostic tooling and tests.
func Decapsulate(framed []byte) (string, []byte, error) {
	if len(framed) < 4 || framed[0] != frameMagic[0] || framed[1] != frameMagic[1] {
		return "", nil, errors.New("not a tunnel frame")
	}
	if framed[2] != frameVersion {
		return "", nil, fmt.Errorf("unsupported frame version %d", framed[2])
	}
	idLen := int(framed[3])
	if len(framed) < 4+idLen {
		return "", nil, errors.New("truncated tunnel frame")
	}
	return string(framed[4 : 4+idLen]), framed[4+idLen:], nil
}
