package protocol

import (
	"fmt"
	"time"

	"PacketPilot/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket decodes a raw packet and extracts the metadata the engine
// needs. Only IPv4 TCP/UDP is steered; anything else is reported as an
// error so the pipeline passes it through unmodified.
func ParsePacket(raw model.RawPacket) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(raw.Data, layers.LayerTypeEthernet, gopacket.Default)

	info := &model.PacketInfo{
		Timestamp: raw.Timestamp,
		Length:    len(raw.Data),
		Direction: raw.Direction,
	}
	if info.Timestamp.IsZero() {
		info.Timestamp = time.Now()
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
	}

	var fiveTuple model.FiveTuple

	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, fmt.Errorf("not an IPv4 packet")
	}
	ipLayer := l.(*layers.IPv4)
	fiveTuple.SrcIP = ipLayer.SrcIP
	fiveTuple.DstIP = ipLayer.DstIP
	fiveTuple.Protocol = uint8(ipLayer.Protocol)

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcpLayer := l.(*layers.TCP)
		fiveTuple.SrcPort = uint16(tcpLayer.SrcPort)
		fiveTuple.DstPort = uint16(tcpLayer.DstPort)
		info.PayloadLen = len(tcpLayer.Payload)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udpLayer := l.(*layers.UDP)
		fiveTuple.SrcPort = uint16(udpLayer.SrcPort)
		fiveTuple.DstPort = uint16(udpLayer.DstPort)
		info.PayloadLen = len(udpLayer.Payload)
	} else {
		return nil, fmt.Errorf("not a TCP or UDP packet")
	}

	info.FiveTuple = fiveTuple

	return info, nil
}
