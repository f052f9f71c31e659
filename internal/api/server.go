package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"swing-core/internal/config"
)

// Server runs the dashboard's HTTP/WebSocket API for one engine.
type Server struct {
	cfg      config.DashboardConfig
	provider EngineSnapshotProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the dashboard mux: /health, /api/snapshot, /ws.
func NewServer(cfg config.DashboardConfig, provider EngineSnapshotProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub, the event consumer, and ListenAndServe. Blocks until
// the server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// consumeEvents forwards engine-pushed events to every connected client.
func (s *Server) consumeEvents() {
	eventsCh := s.provider.DashboardEvents()
	if eventsCh == nil {
		return
	}
	for evt := range eventsCh {
		s.hub.BroadcastEvent(evt)
	}
}
