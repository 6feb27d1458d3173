package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"PacketPilot/internal/capture"
	"PacketPilot/internal/config"
	"PacketPilot/internal/model"
	"PacketPilot/pkg/pcap"

	"github.com/nats-io/nats.go"
)

// pp-replay feeds a recorded capture file into a running engine over the
// NATS packet transport, preserving the original inter-packet timing
// unless -fast is set. Useful for exercising classification and steering
// without live traffic.
func main() {
	pcapFile := flag.String("file", "", "Path to the pcap file to replay (required)")
	dirFlag := flag.String("dir", "outbound", "Direction to replay as: 'outbound' or 'inbound'")
	fast := flag.Bool("fast", false, "Replay at full speed instead of original timing")
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	if *pcapFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -file flag is required.")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dir := model.DirectionOutbound
	if *dirFlag == "inbound" {
		dir = model.DirectionInbound
	}

	nc, err := nats.Connect(cfg.Capture.NATSURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	reader, err := pcap.NewReader(*pcapFile)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	defer reader.Close()

	subject := capture.DirectionSubject(cfg.Capture.CaptureSubject, dir)
	log.Printf("Replaying '%s' as %s traffic to '%s'...", *pcapFile, dir, subject)

	packets := make(chan model.RawPacket, 256)
	go reader.ReadPackets(packets, dir)

	var prev time.Time
	published := 0
	for pkt := range packets {
		if !*fast && !prev.IsZero() {
			if gap := pkt.Timestamp.Sub(prev); gap > 0 {
				time.Sleep(gap)
			}
		}
		prev = pkt.Timestamp

		if err := nc.Publish(subject, pkt.Data); err != nil {
			log.Fatalf("Failed to publish packet: %v", err)
		}
		published++
		if published%1000 == 0 {
			log.Printf("%d packets replayed...", published)
		}
	}

	nc.Flush()
	log.Printf("Replay complete: %d packets published.", published)
}
