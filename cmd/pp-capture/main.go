package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"PacketPilot/internal/capture"
	"PacketPilot/internal/config"
	"PacketPilot/internal/events"
	"PacketPilot/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/nats-io/nats.go"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	timeout           = pcap.BlockForever
)

func main() {
	// --- Command-Line Flag Parsing ---
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and bridge packets, 'sub' to subscribe and print engine events.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	dir := flag.String("dir", "outbound", "Capture direction this interface carries: 'outbound' or 'inbound'.")
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		runBridge(cfg, *iface, *dir)
	case "sub":
		runEventSubscriber(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runBridge captures packets from one interface, publishes them to the
// engine's capture subject for the given direction, and writes packets
// arriving on the inject subject back to the wire.
func runBridge(cfg *config.Config, interfaceName, direction string) {
	if interfaceName == "" {
		log.Println("Error: -iface flag is required for pub mode.")
		flag.Usage()
		os.Exit(1)
	}
	dir, err := parseDirection(direction)
	if err != nil {
		log.Fatalf("Invalid -dir flag: %v", err)
	}
	log.Printf("Starting pp-capture in BRIDGE mode on interface %s (%s)", interfaceName, dir)

	nc, err := nats.Connect(cfg.Capture.NATSURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	// Open device for live capture
	handle, err := pcap.OpenLive(interfaceName, snapshotLen, promiscuous, timeout)
	if err != nil {
		log.Fatalf("Error opening device %s: %v", interfaceName, err)
	}
	defer handle.Close()

	captureSubject := capture.DirectionSubject(cfg.Capture.CaptureSubject, dir)
	injectSubject := capture.DirectionSubject(cfg.Capture.InjectSubject, dir)

	// Processed packets come back from the engine and go onto the wire.
	sub, err := nc.Subscribe(injectSubject, func(msg *nats.Msg) {
		if err := handle.WritePacketData(msg.Data); err != nil {
			log.Printf("Failed to write injected packet: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to %s: %v", injectSubject, err)
	}
	defer sub.Unsubscribe()

	log.Printf("Bridge started. Publishing to '%s', injecting from '%s'.", captureSubject, injectSubject)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		packetsPublished := 0
		for packet := range packetSource.Packets() {
			if err := nc.Publish(captureSubject, packet.Data()); err != nil {
				log.Printf("Failed to publish packet: %v", err)
				continue
			}
			packetsPublished++
			if packetsPublished%1000 == 0 {
				log.Printf("%d packets published...", packetsPublished)
			}
		}
	}()

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}

// runEventSubscriber prints the engine's event stream, for diagnostics.
func runEventSubscriber(cfg *config.Config) {
	log.Println("Starting pp-capture in SUBSCRIBER mode...")

	sub, err := events.NewSubscriber(cfg.Events)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(evt model.Event) {
		log.Printf("Received Event [%s]: %+v", evt.Type, evt)
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}

func parseDirection(s string) (model.Direction, error) {
	switch s {
	case "outbound":
		return model.DirectionOutbound, nil
	case "inbound":
		return model.DirectionInbound, nil
	default:
		return 0, fmt.Errorf("must be 'outbound' or 'inbound', got '%s'", s)
	}
}
