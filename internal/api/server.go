// Package api exposes the engine's control surface over HTTP: session
// status, tracked flows, and live configuration updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"PacketPilot/internal/config"
	"PacketPilot/internal/engine/session"
	"PacketPilot/internal/model"

	"github.com/gorilla/mux"
)

// Server wraps the coordinator's control operations behind a JSON API.
type Server struct {
	coordinator *session.Coordinator
	httpServer  *http.Server
}

// NewServer builds the control server for one coordinator.
func NewServer(listenAddr string, c *session.Coordinator) *Server {
	s := &Server{coordinator: c}
	s.httpServer = &http.Server{
		Addr:    listenAddr,
		Handler: s.newRouter(),
	}
	return s
}

func (s *Server) newRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/v1/flows", s.handleFlows).Methods("GET")
	r.HandleFunc("/v1/tunnels", s.handleTunnels).Methods("GET")
	r.HandleFunc("/v1/config/games", s.handleUpdateGames).Methods("POST")
	r.HandleFunc("/v1/config/tunnels", s.handleUpdateTunnels).Methods("POST")
	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() {
	go func() {
		log.Printf("Control API server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()
}

// Shutdown stops accepting requests and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.coordinator.Status())
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.coordinator.Flows())
}

func (s *Server) handleTunnels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.coordinator.Status().Tunnels)
}

func (s *Server) handleUpdateGames(w http.ResponseWriter, r *http.Request) {
	var profiles []model.GameProfile
	if err := json.NewDecoder(r.Body).Decode(&profiles); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coordinator.UpdateGameSelection(profiles); err != nil {
		writeUpdateError(w, err)
		return
	}
	log.Printf("Game selection update accepted: %d profiles", len(profiles))
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdateTunnels(w http.ResponseWriter, r *http.Request) {
	var tunnels []model.TunnelConfig
	if err := json.NewDecoder(r.Body).Decode(&tunnels); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coordinator.UpdateTunnelSet(tunnels); err != nil {
		writeUpdateError(w, err)
		return
	}
	log.Printf("Tunnel set update accepted: %d tunnels", len(tunnels))
	writeJSON(w, map[string]string{"status": "ok"})
}

// writeUpdateError maps validation failures to 422 and everything else
// to 500. A rejected update leaves the previous configuration in force.
func writeUpdateError(w http.ResponseWriter, err error) {
	var vErr *config.ValidationError
	if errors.As(err, &vErr) {
		http.Error(w, vErr.Error(), http.StatusUnprocessableEntity)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
