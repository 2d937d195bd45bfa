// Package server exposes the HTTP API and the websocket live feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mintlabs/engagemint/internal/bus"
	"github.com/mintlabs/engagemint/internal/config"
	"github.com/mintlabs/engagemint/internal/insight"
	"github.com/mintlabs/engagemint/internal/monitor"
	"github.com/mintlabs/engagemint/internal/store"
)

type Server struct {
	cfg      *config.Config
	store    *store.Store
	insights *insight.Service
	monitor  *monitor.Monitor
	bus      *bus.Bus
	server   *http.Server
}

func New(cfg *config.Config, st *store.Store, svc *insight.Service, mon *monitor.Monitor, b *bus.Bus) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		insights: svc,
		monitor:  mon,
		bus:      b,
	}
}

// Handler builds the route table. Exposed separately so tests can drive
// the API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/commands/start", s.handleCommandStart)
	mux.HandleFunc("POST /api/commands/end", s.handleCommandEnd)
	mux.HandleFunc("GET /api/devices/{deviceID}/commands", s.handleDeviceCommands)

	mux.HandleFunc("GET /api/users/{userID}/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{sessionID}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{sessionID}", s.handlePatchSession)
	mux.HandleFunc("GET /api/sessions/{sessionID}/telemetry", s.handleGetTelemetry)
	mux.HandleFunc("POST /api/sessions/{sessionID}/telemetry", s.handleIngestTelemetry)
	mux.HandleFunc("GET /api/sessions/{sessionID}/alerts", s.handleGetAlerts)
	mux.HandleFunc("GET /api/sessions/{sessionID}/insight", s.handleSessionInsight)
	mux.HandleFunc("GET /api/insights/comparison", s.handleComparisonInsight)

	mux.HandleFunc("GET /ws/live", s.handleLive)

	return mux
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		log.Printf("[server] listening on %s", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[server] serve error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Printf("[server] shutdown error: %v", err)
	}
	log.Printf("[server] stopped")
	return nil
}

// Response envelope shared by every endpoint: {"ok":true,"data":...} on
// success, {"ok":false,"message":...} on failure.

func writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": data})
}

func writeErr(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "message": message})
}

func writeStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "session not found")
		return
	}
	writeErr(w, http.StatusInternalServerError, err.Error())
}
