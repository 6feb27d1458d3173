package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PacketPilot/internal/api"
	"PacketPilot/internal/capture"
	"PacketPilot/internal/config"
	"PacketPilot/internal/engine/session"
	"PacketPilot/internal/events"
	"PacketPilot/internal/metrics"
	"PacketPilot/internal/model"
	"PacketPilot/internal/tunnel"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	log.Println("Starting pp-engine...")

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// 2. Event sink: NATS bus when enabled, process log otherwise
	var sink model.EventSink
	if cfg.Events.Enabled {
		publisher, err := events.NewPublisher(cfg.Events)
		if err != nil {
			log.Fatalf("Failed to create event publisher: %v", err)
		}
		sink = publisher
	} else {
		sink = events.LogSink{}
	}
	defer sink.Close()

	// 3. Capture surface over NATS
	surface, err := capture.NewNATSSurface(cfg.Capture)
	if err != nil {
		log.Fatalf("Failed to create capture surface: %v", err)
	}

	// 4. Tunnel endpoint and metrics writers
	endpoint := tunnel.NewUDPEndpoint(cfg.Tunnels)
	writers, err := metrics.NewWriters(cfg.Metrics)
	if err != nil {
		log.Fatalf("Failed to initialize writers: %v", err)
	}

	// 5. Session coordinator owns everything from here
	coordinator, err := session.New(cfg, surface, endpoint, sink, writers)
	if err != nil {
		log.Fatalf("Failed to create session coordinator: %v", err)
	}
	if err := coordinator.Start(); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	// 6. Control API
	server := api.NewServer(cfg.API.ListenAddr, coordinator)
	server.Start()

	// 7. Wait for a shutdown signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	log.Println("Shutdown signal received, stopping session...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	coordinator.Stop()
	log.Println("Shutdown complete.")
}
