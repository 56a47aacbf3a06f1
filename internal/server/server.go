/*
File: internal/server/server.go
Description: Base HTTP server shared by the API and WebSocket listeners:
mux, health and readiness probes, metrics endpoint, ready signaling, and
graceful shutdown.
*/
// Package server provides the common HTTP server scaffolding.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// BaseServer wraps an http.Server with standard probes and lifecycle.
type BaseServer struct {
	server *http.Server
	mux    *http.ServeMux
	ready  atomic.Bool

	// readyChan, when set, is closed after net.Listen succeeds.
	readyChan chan<- struct{}

	logger zerolog.Logger
}

// NewBaseServer creates a server listening on addr with /healthz and
// /readyz registered.
func NewBaseServer(logger zerolog.Logger, addr string) *BaseServer {
	mux := http.NewServeMux()
	s := &BaseServer{
		mux:    mux,
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger.With().Str("component", "BaseServer").Str("addr", addr).Logger(),
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return s
}

// Mux exposes the router for handler registration.
func (s *BaseServer) Mux() *http.ServeMux { return s.mux }

// ServeMetrics registers the Prometheus endpoint for the given registry.
func (s *BaseServer) ServeMetrics(reg *prometheus.Registry) {
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

// SetReadyChannel registers a channel closed once the listener is active.
func (s *BaseServer) SetReadyChannel(ch chan<- struct{}) { s.readyChan = ch }

// SetReady flips the readiness probe.
func (s *BaseServer) SetReady(ready bool) { s.ready.Store(ready) }

// Port returns the bound port, useful when addr was ":0".
func (s *BaseServer) Port() string { return s.server.Addr }

// Start listens and serves until Shutdown. It signals the ready channel
// after the listener is bound, so callers can sequence startup.
func (s *BaseServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.server.Addr = ln.Addr().String()
	s.logger.Info().Str("bound", s.server.Addr).Msg("HTTP server listening")

	if s.readyChan != nil {
		close(s.readyChan)
	}

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully and marks it not ready.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
