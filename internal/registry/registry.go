/*
File: internal/registry/registry.go
Description: In-memory registry of live connections per user. The single
source of truth for presence; consulted by every other component.
*/
// Package registry tracks every live transport connection per user identity.
package registry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/internal/metrics"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// Registry owns the UserID -> connections mapping exclusively; mutations go
// through Add and Remove only. Reads vastly outnumber writes, so a single
// RWMutex over both indexes is sufficient at the registry's expected scale.
// None of its methods perform I/O and none can fail.
type Registry struct {
	mu     sync.RWMutex
	byUser map[chat.UserID]map[string]chat.Sender
	byConn map[string]chat.Sender

	// onLastDisconnect fires after the last connection for a user is
	// removed. Used to clear per-user transient state (delivery tokens).
	onLastDisconnect []func(chat.UserID)

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an empty registry.
func New(m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		byUser:  make(map[chat.UserID]map[string]chat.Sender),
		byConn:  make(map[string]chat.Sender),
		metrics: m,
		logger:  logger.With().Str("component", "Registry").Logger(),
	}
}

// OnLastDisconnect registers a callback invoked when a user's connection
// count drops to zero. Must be called before the registry is in use; the
// callback list is not guarded after that.
func (r *Registry) OnLastDisconnect(fn func(chat.UserID)) {
	r.onLastDisconnect = append(r.onLastDisconnect, fn)
}

// Add appends a handle to the user's connection list, creating the list if
// absent. Always succeeds.
func (r *Registry) Add(userID chat.UserID, s chat.Sender) {
	r.mu.Lock()
	conns := r.byUser[userID]
	if conns == nil {
		conns = make(map[string]chat.Sender)
		r.byUser[userID] = conns
	}
	conns[s.ID()] = s
	r.byConn[s.ID()] = s
	total := len(r.byConn)
	r.mu.Unlock()

	r.metrics.ActiveConnections.Set(float64(total))
	r.logger.Debug().Str("user", string(userID)).Str("conn", s.ID()).Msg("Connection registered")
}

// Remove removes one handle for the user, or every handle if connID is
// empty. Removing from an already-absent user is a no-op.
func (r *Registry) Remove(userID chat.UserID, connID string) {
	var lastGone bool

	r.mu.Lock()
	conns := r.byUser[userID]
	if conns != nil {
		if connID == "" {
			for id := range conns {
				delete(r.byConn, id)
			}
			delete(r.byUser, userID)
			lastGone = true
		} else if _, ok := conns[connID]; ok {
			delete(conns, connID)
			delete(r.byConn, connID)
			if len(conns) == 0 {
				delete(r.byUser, userID)
				lastGone = true
			}
		}
	}
	total := len(r.byConn)
	r.mu.Unlock()

	r.metrics.ActiveConnections.Set(float64(total))

	if lastGone {
		r.logger.Debug().Str("user", string(userID)).Msg("Last connection gone")
		for _, fn := range r.onLastDisconnect {
			fn(userID)
		}
	}
}

// Get returns the user's live handles. Callers must treat an empty slice
// and an absent user identically; both return a nil slice.
func (r *Registry) Get(userID chat.UserID) []chat.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]chat.Sender, 0, len(conns))
	for _, s := range conns {
		out = append(out, s)
	}
	return out
}

// GetByConnID returns one handle by its connection id, or nil.
func (r *Registry) GetByConnID(connID string) chat.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID chat.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// SendToUser pushes one event to every live connection of the user and
// returns the delivered and failed counts. Push failures are not retried;
// recovery on the recipient's next connect is the retry mechanism.
func (r *Registry) SendToUser(userID chat.UserID, evt chat.Event) (delivered, failed int) {
	for _, s := range r.Get(userID) {
		if err := s.Send(evt); err != nil {
			failed++
			r.metrics.FanoutPushes.WithLabelValues("failed").Inc()
			r.logger.Warn().Err(err).
				Str("user", string(userID)).
				Str("conn", s.ID()).
				Str("event", string(evt.Type)).
				Msg("Push to connection failed")
			continue
		}
		delivered++
		r.metrics.FanoutPushes.WithLabelValues("delivered").Inc()
	}
	return delivered, failed
}
