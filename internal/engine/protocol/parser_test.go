package protocol

import (
	"net"
	"testing"
	"time"

	"PacketPilot/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("Failed to serialize packet: %v", err)
	}
	return buf.Bytes()
}

func TestParsePacket_UDP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP("192.168.0.10").To4(),
		DstIP:    net.ParseIP("203.0.113.50").To4(),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 3074}
	udp.SetNetworkLayerForChecksum(ip)
	raw := serialize(t, eth, ip, udp, gopacket.Payload(make([]byte, 60)))

	ts := time.Now()
	info, err := ParsePacket(model.RawPacket{Data: raw, Direction: model.DirectionOutbound, Timestamp: ts})
	if err != nil {
		t.Fatalf("Failed to parse packet: %v", err)
	}

	ft := info.FiveTuple
	if !ft.SrcIP.Equal(net.ParseIP("192.168.0.10")) {
		t.Errorf("Wrong source IP: %s", ft.SrcIP)
	}
	if !ft.DstIP.Equal(net.ParseIP("203.0.113.50")) {
		t.Errorf("Wrong destination IP: %s", ft.DstIP)
	}
	if ft.SrcPort != 40000 || ft.DstPort != 3074 {
		t.Errorf("Wrong ports: %d -> %d", ft.SrcPort, ft.DstPort)
	}
	if ft.Protocol != 17 {
		t.Errorf("Expected UDP protocol 17, got %d", ft.Protocol)
	}
	if info.PayloadLen != 60 {
		t.Errorf("Expected 60-byte payload, got %d", info.PayloadLen)
	}
	if info.Length != len(raw) {
		t.Errorf("Expected length %d, got %d", len(raw), info.Length)
	}
	if info.Direction != model.DirectionOutbound {
		t.Errorf("Expected outbound direction, got %s", info.Direction)
	}
	if !info.Timestamp.Equal(ts) {
		t.Errorf("Expected the capture timestamp to be preserved")
	}
}

func TestParsePacket_TCP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("192.168.0.10").To4(),
		DstIP:    net.ParseIP("203.0.113.50").To4(),
	}
	tcp := &layers.TCP{SrcPort: 40001, DstPort: 443, SYN: true}
	tcp.SetNetworkLayerForChecksum(ip)
	raw := serialize(t, eth, ip, tcp)

	info, err := ParsePacket(model.RawPacket{Data: raw})
	if err != nil {
		t.Fatalf("Failed to parse packet: %v", err)
	}
	if info.FiveTuple.Protocol != 6 {
		t.Errorf("Expected TCP protocol 6, got %d", info.FiveTuple.Protocol)
	}
	if info.FiveTuple.DstPort != 443 {
		t.Errorf("Expected destination port 443, got %d", info.FiveTuple.DstPort)
	}
}

func TestParsePacket_NonIP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		SourceProtAddress: []byte{192, 168, 0, 10},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{192, 168, 0, 1},
	}
	raw := serialize(t, eth, arp)

	if _, err := ParsePacket(model.RawPacket{Data: raw}); err == nil {
		t.Fatal("Expected an error for a non-IP packet")
	}
}

func TestParsePacket_Garbage(t *testing.T) {
	if _, err := ParsePacket(model.RawPacket{Data: []byte{0xde, 0xad, 0xbe, 0xef}}); err == nil {
		t.Fatal("Expected an error for a garbage packet")
	}
}
