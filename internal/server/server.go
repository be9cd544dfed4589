// Package server provides the HTTP API for diaryrag.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/diaryrag/internal/command"
	"github.com/hyperjump/diaryrag/internal/config"
	"github.com/hyperjump/diaryrag/internal/metrics"
)

// Server is the HTTP server for the diaryrag API.
type Server struct {
	dispatcher *command.Dispatcher
	metrics    *metrics.Metrics
	config     *config.ServerConfig
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server over the command dispatcher. When m is nil the
// /metrics route is not registered.
func NewServer(d *command.Dispatcher, cfg *config.ServerConfig, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		dispatcher: d,
		metrics:    m,
		config:     cfg,
		logger:     logger,
	}
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleCommand(command.Search))
	r.Post("/api/v1/diaries", s.handleUpsert)
	r.Delete("/api/v1/diaries/{id}", s.handleDelete)
	r.Post("/api/v1/aggregate", s.handleCommand(command.Aggregate))
	r.Post("/api/v1/aggregate/string", s.handleCommand(command.Flatten))
	r.Post("/api/v1/aggregate/report", s.handleCommand(command.Report))
	r.Post("/api/v1/import", s.handleCommand(command.Import))
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
