package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/camrelay/camrelay/internal/handoff"
	"github.com/camrelay/camrelay/internal/logger"
	"github.com/camrelay/camrelay/internal/output"
	"github.com/camrelay/camrelay/internal/registry"
)

// StatsFunc returns the combined diagnostics counters exposed at /api/stats.
type StatsFunc func() interface{}

// Server is the consumer-side HTTP server: it serves the device registry
// used for discovery, hosts the hand-off input endpoint, and exposes
// diagnostics and the MJPEG preview.
type Server struct {
	router   *mux.Router
	reg      *registry.Static
	listener *handoff.Listener
	preview  *output.MJPEGOutput
	stats    StatsFunc

	mu         sync.RWMutex
	endpointID string
	srv        *http.Server
}

// NewServer creates the API server. preview and stats may be nil.
func NewServer(reg *registry.Static, listener *handoff.Listener, preview *output.MJPEGOutput, stats StatsFunc) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		reg:      reg,
		listener: listener,
		preview:  preview,
		stats:    stats,
	}
	s.setupRoutes()
	return s
}

// RegisterDevice publishes a virtual device with one input endpoint in the
// registry. Endpoint IDs are minted fresh on every registration, so
// producers that cached an endpoint across a device reload dial a dead URL
// and fall back to discovery.
func (s *Server) RegisterDevice(deviceName string, port int) registry.Endpoint {
	id := uuid.NewString()

	s.mu.Lock()
	s.endpointID = id
	s.mu.Unlock()

	ep := registry.Endpoint{
		DeviceName: deviceName,
		Name:       deviceName + " Input",
		ID:         id,
		URL:        fmt.Sprintf("ws://localhost:%d/handoff/%s", port, id),
	}
	s.reg.Register(registry.Device{
		Name:      deviceName,
		Endpoints: []registry.Endpoint{ep},
	})

	logger.WithComponent("api").Info().
		Str("device", deviceName).
		Str("endpoint_id", id).
		Msg("Virtual device registered")
	return ep
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Discovery registry
	api.HandleFunc("/devices", s.handleGetDevices).Methods("GET")

	// Diagnostics
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Hand-off input endpoint (producer websocket)
	s.router.HandleFunc("/handoff/{endpoint}", s.handleHandoff)

	// Preview
	if s.preview != nil {
		s.router.HandleFunc("/preview", s.preview.GetHTTPHandler())
		s.router.HandleFunc("/", s.preview.GetViewerHandler())
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.mu.Lock()
	s.srv = &http.Server{Addr: addr, Handler: s.enableCORS(s.router)}
	srv := s.srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", addr).Msg("Server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.srv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleGetDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.reg.Devices(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(devices)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.stats == nil {
		w.Write([]byte("{}"))
		return
	}
	json.NewEncoder(w).Encode(s.stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleHandoff routes a producer connection to the hand-off listener,
// rejecting endpoint IDs from a previous device registration.
func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	s.mu.RLock()
	current := s.endpointID
	s.mu.RUnlock()

	if current == "" || vars["endpoint"] != current {
		http.Error(w, "unknown endpoint", http.StatusNotFound)
		return
	}
	s.listener.ServeHTTP(w, r)
}
