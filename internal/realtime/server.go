/*
File: internal/realtime/server.go
Description: The WebSocket server. Upgrades authenticated handshakes,
registers connections with the registry, and runs the per-connection read
loop that feeds the event router.
*/
// Package realtime manages WebSocket connections and dispatches their
// events to the core components.
package realtime

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-chat-service/internal/metrics"
	"github.com/tinywideclouds/go-chat-service/internal/middleware"
	"github.com/tinywideclouds/go-chat-service/internal/registry"
	"github.com/tinywideclouds/go-chat-service/internal/server"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

const (
	maxMessageSize = 64 * 1024

	// Inbound events per connection: sustained rate and burst. Typing
	// traffic dominates; anything past this is a misbehaving client.
	eventRateLimit = rate.Limit(25)
	eventBurst     = 50
)

// Server owns the WebSocket listener. It runs its own dedicated HTTP
// server, separate from the API port.
type Server struct {
	base     *server.BaseServer
	upgrader websocket.Upgrader

	registry *registry.Registry
	router   *Router

	metrics    *metrics.Metrics
	logger     zerolog.Logger
	instanceID string
}

// NewServer wires up the WebSocket server on the given port.
func NewServer(
	port string,
	authMiddleware func(http.Handler) http.Handler,
	reg *registry.Registry,
	router *Router,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	instanceID := uuid.NewString()
	s := &Server{
		base: server.NewBaseServer(logger, ":"+port),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the configured web origins.
				return true
			},
		},
		registry:   reg,
		router:     router,
		metrics:    m,
		logger:     logger.With().Str("component", "RealtimeServer").Str("instance", instanceID).Logger(),
		instanceID: instanceID,
	}

	s.base.Mux().Handle("GET /connect", authMiddleware(http.HandlerFunc(s.connectHandler)))
	return s
}

// SetReadyChannel passes through to the base server.
func (s *Server) SetReadyChannel(ch chan<- struct{}) { s.base.SetReadyChannel(ch) }

// SetReady passes through to the base server.
func (s *Server) SetReady(ready bool) { s.base.SetReady(ready) }

// Start runs the HTTP server for WebSocket connections.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Msg("WebSocket server starting...")
	return s.base.Start()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down WebSocket service...")
	return s.base.Shutdown(ctx)
}

// connectHandler upgrades an authenticated request and manages the
// connection's lifecycle until the client goes away.
func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	conn := newConnection(uuid.NewString(), userID, ws, s.logger)
	go conn.writePump()

	s.registry.Add(userID, conn)
	defer func() {
		s.registry.Remove(userID, conn.id)
		conn.close()
		// The user's remaining devices hear about the lost connection.
		if evt, err := chat.NewEvent(chat.EventDisconnected, chat.DisconnectedPayload{ConnectionID: conn.id}); err == nil {
			s.registry.SendToUser(userID, evt)
		}
		s.logger.Info().Str("user", string(userID)).Str("conn", conn.id).Msg("User disconnected.")
	}()

	s.logger.Info().Str("user", string(userID)).Str("conn", conn.id).Msg("User connected via WebSocket.")

	if evt, err := chat.NewEvent(chat.EventConnected, chat.ConnectedPayload{
		ConnectionID:     conn.id,
		ServerInstanceID: s.instanceID,
	}); err == nil {
		_ = conn.Send(evt)
	}

	s.readLoop(r.Context(), conn)
}

// readLoop decodes inbound frames and hands each event to the router.
// Handlers for a single connection run in order on this goroutine;
// concurrency happens across connections. A handler failure becomes a
// structured rejection to this connection only and never ends the loop.
func (s *Server) readLoop(ctx context.Context, conn *Connection) {
	conn.ws.SetReadLimit(maxMessageSize)
	limiter := rate.NewLimiter(eventRateLimit, eventBurst)

	for {
		var evt chat.Event
		if err := conn.ws.ReadJSON(&evt); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Str("conn", conn.id).Msg("Read loop ended")
			}
			return
		}

		if !limiter.Allow() {
			s.reject(conn, evt.Type, chat.NewError(chat.KindValidation, "event rate limit exceeded"), chat.EventRateLimited)
			continue
		}

		if err := s.router.Dispatch(ctx, conn, evt); err != nil {
			s.reject(conn, evt.Type, err, chat.EventRejection)
		}
	}
}

// reject sends a structured rejection for a failed inbound event to the
// originating connection only. Internal kinds are logged with full context;
// everything else is an expected client-visible condition.
func (s *Server) reject(conn *Connection, ref chat.EventType, err error, as chat.EventType) {
	kind := chat.KindOf(err)
	s.metrics.EventErrors.WithLabelValues(string(kind)).Inc()

	if kind == chat.KindInternal {
		s.logger.Error().Err(err).
			Str("conn", conn.id).
			Str("user", string(conn.userID)).
			Str("event", string(ref)).
			Msg("Inbound event failed")
	}

	evt, buildErr := chat.NewEvent(as, chat.RejectionPayload{
		Kind:    kind,
		Message: chat.MessageOf(err),
		Ref:     ref,
	})
	if buildErr != nil {
		s.logger.Error().Err(buildErr).Msg("Failed to build rejection event")
		return
	}
	if sendErr := conn.Send(evt); sendErr != nil {
		s.logger.Debug().Err(sendErr).Str("conn", conn.id).Msg("Rejection push failed")
	}
}
