// Package pcap reads capture files for offline replay into the engine.
package pcap

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"PacketPilot/internal/model"
)

// Reader reads packets from a pcap file.
type Reader struct {
	handle *pcap.Handle
}

// NewReader creates a new pcap reader for the given file path.
func NewReader(filePath string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, err
	}
	return &Reader{handle: handle}, nil
}

// Close closes the pcap handle.
func (r *Reader) Close() {
	r.handle.Close()
}

// ReadPackets sends every packet in the file to the channel as a raw
// packet stamped with its original capture time and the given direction.
// It closes the channel when the file is exhausted.
func (r *Reader) ReadPackets(out chan<- model.RawPacket, dir model.Direction) {
	defer close(out)

	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range packetSource.Packets() {
		out <- model.RawPacket{
			Data:      packet.Data(),
			Direction: dir,
			Timestamp: packet.Metadata().Timestamp,
		}
	}
}
