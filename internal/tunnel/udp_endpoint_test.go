package tunnel

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"PacketPilot/internal/model"
)

func testEndpoint() *UDPEndpoint {
	return NewUDPEndpoint([]model.TunnelConfig{
		{ID: "relay-east", Endpoint: "203.0.113.10:51820"},
	})
}

func TestEncapsulateDecapsulate(t *testing.T) {
	e := testEndpoint()
	payload := []byte("original packet bytes")

	framed, err := e.Encapsulate(payload, "relay-east")
	if err != nil {
		t.Fatalf("Failed to encapsulate: %v", err)
	}

	id, inner, err := Decapsulate(framed)
	if err != nil {
		t.Fatalf("Failed to decapsulate: %v", err)
	}
	if id != "relay-east" {
		t.Errorf("Expected tunnel id 'relay-east', got '%s'", id)
	}
	if !bytes.Equal(inner, payload) {
		t.Error("Expected the inner packet to round-trip unchanged")
	}
}

func TestEncapsulate_UnknownTunnel(t *testing.T) {
	e := testEndpoint()
	if _, err := e.Encapsulate([]byte("pkt"), "nope"); !errors.Is(err, ErrUnknownTunnel) {
		t.Fatalf("Expected ErrUnknownTunnel, got %v", err)
	}
}

func TestSetTunnels_ReplacesSet(t *testing.T) {
	e := testEndpoint()
	e.SetTunnels([]model.TunnelConfig{
		{ID: "relay-west", Endpoint: "203.0.113.20:51820"},
	})

	if _, err := e.Encapsulate([]byte("pkt"), "relay-east"); !errors.Is(err, ErrUnknownTunnel) {
		t.Error("Expected the removed tunnel to be rejected")
	}
	if _, err := e.Encapsulate([]byte("pkt"), "relay-west"); err != nil {
		t.Errorf("Expected the new tunnel to be accepted, got %v", err)
	}
}

func TestDecapsulate_Invalid(t *testing.T) {
	cases := [][]byte{
		nil,
		{'P'},
		{'X', 'X', 1, 0},       // wrong magic
		{'P', 'P', 9, 0},       // wrong version
		{'P', 'P', 1, 20, 'a'}, // truncated id
	}
	for i, c := range cases {
		if _, _, err := Decapsulate(c); err == nil {
			t.Errorf("Case %d: expected an error", i)
		}
	}
}

func TestProbe_MeasuresRoundTrip(t *testing.T) {
	// Local UDP echo server standing in for the tunnel's remote end.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to start echo server: %v", err)
	}
	defer conn.Close()
	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(buf[:n], addr)
		}
	}()

	e := NewUDPEndpoint([]model.TunnelConfig{
		{ID: "local", Endpoint: conn.LocalAddr().String()},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rtt, err := e.Probe(ctx, "local")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if rtt <= 0 {
		t.Errorf("Expected a positive RTT, got %s", rtt)
	}
}

func TestProbe_UnknownTunnel(t *testing.T) {
	e := testEndpoint()
	if _, err := e.Probe(context.Background(), "nope"); !errors.Is(err, ErrUnknownTunnel) {
		t.Fatalf("Expected ErrUnknownTunnel, got %v", err)
	}
}
