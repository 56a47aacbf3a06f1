/*
File: chatservice/chatservice.go
Description: Wires the core components into a runnable service: the
operations HTTP server (health and metrics) and the WebSocket server that
carries all chat traffic.
*/
package chatservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/chatservice/config"
	"github.com/tinywideclouds/go-chat-service/internal/call"
	"github.com/tinywideclouds/go-chat-service/internal/dedup"
	"github.com/tinywideclouds/go-chat-service/internal/fanout"
	"github.com/tinywideclouds/go-chat-service/internal/metrics"
	"github.com/tinywideclouds/go-chat-service/internal/realtime"
	"github.com/tinywideclouds/go-chat-service/internal/registry"
	"github.com/tinywideclouds/go-chat-service/internal/server"
	"github.com/tinywideclouds/go-chat-service/internal/typing"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// Wrapper embeds the operations BaseServer and owns the WebSocket server
// plus every core component behind it.
type Wrapper struct {
	*server.BaseServer

	ws     *realtime.Server
	logger zerolog.Logger

	httpReadyChan chan struct{}
}

// New creates and wires up the entire chat service.
func New(
	cfg *config.AppConfig,
	deps *chat.Dependencies,
	authMiddleware func(http.Handler) http.Handler,
	promRegistry *prometheus.Registry,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if deps == nil || deps.Store == nil || deps.Policy == nil {
		return nil, errors.New("service dependencies are incomplete")
	}

	m := metrics.New(promRegistry)

	// 1. Core components.
	reg := registry.New(m, logger)
	deduper := dedup.New()
	typingCoord := typing.New(cfg.TypingExpiry(), logger)
	callEngine := call.New(reg, cfg.CallTimeout(), m, logger)
	fanoutSvc := fanout.New(deps, deduper, reg, m, logger)

	// A user's transient state does not outlive their last connection.
	reg.OnLastDisconnect(deduper.Clear)
	reg.OnLastDisconnect(typingCoord.StopTyping)
	reg.OnLastDisconnect(callEngine.EndAllFor)

	// 2. The WebSocket server and its event router.
	router := realtime.NewRouter(fanoutSvc, typingCoord, callEngine, reg, logger)
	wsServer := realtime.NewServer(cfg.WebSocketPort, authMiddleware, reg, router, m, logger)

	// 3. The operations server: health probes and the metrics endpoint.
	baseServer := server.NewBaseServer(logger, ":"+cfg.APIPort)
	baseServer.ServeMetrics(promRegistry)

	httpReadyChan := make(chan struct{})
	baseServer.SetReadyChannel(httpReadyChan)

	return &Wrapper{
		BaseServer:    baseServer,
		ws:            wsServer,
		logger:        logger.With().Str("component", "ChatService").Logger(),
		httpReadyChan: httpReadyChan,
	}, nil
}

// WebSocketServer exposes the realtime server so the application lifecycle
// can run it alongside the operations server.
func (w *Wrapper) WebSocketServer() *realtime.Server { return w.ws }

// Start runs the operations HTTP server and marks the service ready once
// the listener is active.
func (w *Wrapper) Start(ctx context.Context) error {
	serverErrChan := make(chan error, 1)
	go func() {
		if err := w.BaseServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error().Err(err).Msg("Operations server failed")
			serverErrChan <- err
		}
		close(serverErrChan)
	}()

	select {
	case <-w.httpReadyChan:
		// Closed by BaseServer.Start() after net.Listen() succeeds.
		w.SetReady(true)
		w.logger.Info().Msg("Service is now ready.")
	case err := <-serverErrChan:
		return fmt.Errorf("operations server failed to start: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := <-serverErrChan; err != nil {
		return err
	}
	return nil
}

// Shutdown stops the operations server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down service components...")
	w.SetReady(false)
	return w.BaseServer.Shutdown(ctx)
}
