/*
File: internal/call/engine.go
Description: Voice-call signaling engine. Manages call session lifecycle
and relays opaque SDP/ICE payloads between exactly two parties, with
timeout-based auto-cancellation of unanswered calls.
*/
// Package call implements the signaling state machine for voice calls.
package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/internal/metrics"
	"github.com/tinywideclouds/go-chat-service/internal/registry"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// DefaultRequestTimeout is how long an unanswered call rings before it is
// force-ended.
const DefaultRequestTimeout = 10 * time.Second

// Session is the signaling-layer record of one voice-call attempt. Session
// ids are random 128-bit values: they are exchanged with clients as
// capability tokens for subsequent signaling calls, so sequential ids would
// be guessable.
type Session struct {
	ID             string
	Status         chat.CallStatus
	CallerID       chat.UserID
	CalleeID       chat.UserID
	ConversationID chat.ConversationID
	CreatedAt      time.Time

	// cancel is the armed auto-cancel handle, stored alongside the entry
	// it guards.
	cancel *time.Timer
}

// other resolves "the other party": whichever of caller/callee is not the
// given user.
func (s *Session) other(userID chat.UserID) chat.UserID {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

func (s *Session) party(userID chat.UserID) bool {
	return userID == s.CallerID || userID == s.CalleeID
}

// Engine owns the session map and the usersCalling busy index. One mutex
// covers both: every transition that creates or destroys a session updates
// both maps in the same critical section, so a user can never appear idle
// while holding a live session or vice versa. Session volume does not
// justify finer-grained locking.
type Engine struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	usersCalling map[chat.UserID]string

	registry       *registry.Registry
	requestTimeout time.Duration
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

// New creates the engine. A non-positive timeout falls back to the default.
func New(reg *registry.Registry, requestTimeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Engine{
		sessions:       make(map[string]*Session),
		usersCalling:   make(map[chat.UserID]string),
		registry:       reg,
		requestTimeout: requestTimeout,
		metrics:        m,
		logger:         logger.With().Str("component", "CallEngine").Logger(),
	}
}

// IsUserBusy reports whether the user holds an active call session.
func (e *Engine) IsUserBusy(userID chat.UserID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := e.usersCalling[userID]
	return busy
}

// Request starts a call from caller to callee. If either party is already
// busy it answers busy, and if the callee is offline it answers offline; in
// both cases no session is created and the busy index is untouched. On
// success the session enters requesting, the callee is notified on every
// connection, and the auto-cancel timer is armed.
func (e *Engine) Request(callerID chat.UserID, p chat.CallRequestPayload) (chat.CallStatusEvent, error) {
	if p.CalleeID == "" || p.ConversationID == "" {
		return chat.CallStatusEvent{}, chat.NewError(chat.KindValidation, "calleeId and conversationId are required")
	}
	if p.CalleeID == callerID {
		return chat.CallStatusEvent{}, chat.NewError(chat.KindValidation, "cannot call yourself")
	}

	e.mu.Lock()
	if _, busy := e.usersCalling[p.CalleeID]; busy {
		e.mu.Unlock()
		return chat.CallStatusEvent{Status: chat.CallStatusBusy}, nil
	}
	if _, busy := e.usersCalling[callerID]; busy {
		e.mu.Unlock()
		return chat.CallStatusEvent{Status: chat.CallStatusBusy}, nil
	}
	if !e.registry.IsOnline(p.CalleeID) {
		e.mu.Unlock()
		return chat.CallStatusEvent{Status: chat.CallStatusOffline}, nil
	}

	session := &Session{
		ID:             uuid.NewString(),
		Status:         chat.CallStatusRequesting,
		CallerID:       callerID,
		CalleeID:       p.CalleeID,
		ConversationID: p.ConversationID,
		CreatedAt:      time.Now(),
	}
	session.cancel = time.AfterFunc(e.requestTimeout, func() { e.expire(session.ID) })
	e.sessions[session.ID] = session
	e.usersCalling[callerID] = session.ID
	e.usersCalling[p.CalleeID] = session.ID
	e.metrics.ActiveCalls.Set(float64(len(e.sessions)))
	e.mu.Unlock()

	evt, err := chat.NewEvent(chat.EventCallRequest, chat.CallRequestEvent{
		SessionID:      session.ID,
		CallerID:       callerID,
		ConversationID: p.ConversationID,
	})
	if err != nil {
		return chat.CallStatusEvent{}, chat.WrapError(chat.KindInternal, "failed to build call request event", err)
	}
	delivered, _ := e.registry.SendToUser(p.CalleeID, evt)

	// The notification reached at least one device: the callee is ringing.
	if delivered > 0 {
		e.mu.Lock()
		if s, ok := e.sessions[session.ID]; ok && s.Status == chat.CallStatusRequesting {
			s.Status = chat.CallStatusRinging
		}
		e.mu.Unlock()
	}

	e.logger.Info().
		Str("session", session.ID).
		Str("caller", string(callerID)).
		Str("callee", string(p.CalleeID)).
		Msg("Call requested")
	return chat.CallStatusEvent{SessionID: session.ID, Status: chat.CallStatusRequesting}, nil
}

// Accept transitions requesting/ringing to accepted and notifies the
// caller. A second accept, or an accept after timeout, fails with
// INVALID_STATE and leaves the session untouched.
func (e *Engine) Accept(userID chat.UserID, sessionID string) error {
	e.mu.Lock()
	session, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return chat.NewError(chat.KindNotFound, "unknown call session")
	}
	if userID != session.CalleeID {
		e.mu.Unlock()
		return chat.NewError(chat.KindForbidden, "only the callee may accept")
	}
	if session.Status != chat.CallStatusRequesting && session.Status != chat.CallStatusRinging {
		e.mu.Unlock()
		return chat.NewError(chat.KindInvalidState, "call is not awaiting an answer")
	}
	session.cancel.Stop()
	session.Status = chat.CallStatusAccepted
	caller := session.CallerID
	e.mu.Unlock()

	e.notifyStatus(caller, sessionID, chat.CallStatusAccepted)
	e.logger.Info().Str("session", sessionID).Msg("Call accepted")
	return nil
}

// Reject ends an active session with the rejected status. Either party may
// reject; the opposite party is notified.
func (e *Engine) Reject(userID chat.UserID, sessionID string) error {
	return e.end(userID, sessionID, chat.CallStatusRejected)
}

// Hangup ends an active session with the ended status.
func (e *Engine) Hangup(userID chat.UserID, sessionID string) error {
	return e.end(userID, sessionID, chat.CallStatusEnded)
}

// end removes the session from both maps in one critical section and
// notifies the other party.
func (e *Engine) end(userID chat.UserID, sessionID string, terminal chat.CallStatus) error {
	e.mu.Lock()
	session, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return chat.NewError(chat.KindNotFound, "unknown call session")
	}
	if !session.party(userID) {
		e.mu.Unlock()
		return chat.NewError(chat.KindForbidden, "not a party to this call")
	}
	session.cancel.Stop()
	e.removeLocked(session)
	other := session.other(userID)
	e.mu.Unlock()

	e.notifyStatus(other, sessionID, terminal)
	e.logger.Info().Str("session", sessionID).Str("status", string(terminal)).Msg("Call ended")
	return nil
}

// OfferAnswer relays an opaque SDP payload to the other party, verbatim.
// The engine does not interpret SDP content. The callee's answer completes
// the exchange and moves an accepted session to connected.
func (e *Engine) OfferAnswer(userID chat.UserID, p chat.CallOfferAnswerPayload) error {
	e.mu.Lock()
	session, ok := e.sessions[p.SessionID]
	if !ok {
		e.mu.Unlock()
		return chat.NewError(chat.KindNotFound, "unknown call session")
	}
	if !session.party(userID) {
		e.mu.Unlock()
		return chat.NewError(chat.KindForbidden, "not a party to this call")
	}
	if session.Status == chat.CallStatusAccepted && userID == session.CalleeID {
		session.Status = chat.CallStatusConnected
	}
	other := session.other(userID)
	connected := session.Status == chat.CallStatusConnected
	caller := session.CallerID
	e.mu.Unlock()

	evt, err := chat.NewEvent(chat.EventCallOfferAnswer, p)
	if err != nil {
		return chat.WrapError(chat.KindInternal, "failed to build offer/answer event", err)
	}
	e.registry.SendToUser(other, evt)

	if connected && userID == session.CalleeID {
		e.notifyStatus(caller, p.SessionID, chat.CallStatusConnected)
		e.notifyStatus(session.CalleeID, p.SessionID, chat.CallStatusConnected)
	}
	return nil
}

// Ice relays an opaque ICE candidate to the other party. No validation is
// performed on the candidate content.
func (e *Engine) Ice(userID chat.UserID, p chat.CallIcePayload) error {
	e.mu.Lock()
	session, ok := e.sessions[p.SessionID]
	if !ok {
		e.mu.Unlock()
		return chat.NewError(chat.KindNotFound, "unknown call session")
	}
	if !session.party(userID) {
		e.mu.Unlock()
		return chat.NewError(chat.KindForbidden, "not a party to this call")
	}
	other := session.other(userID)
	e.mu.Unlock()

	evt, err := chat.NewEvent(chat.EventCallIce, p)
	if err != nil {
		return chat.WrapError(chat.KindInternal, "failed to build ice event", err)
	}
	e.registry.SendToUser(other, evt)
	return nil
}

// EndAllFor force-ends any session the user is a party to, notifying the
// other side. Wired to the registry's last-disconnect callback so a
// vanished party does not leave the peer ringing forever.
func (e *Engine) EndAllFor(userID chat.UserID) {
	e.mu.Lock()
	sessionID, ok := e.usersCalling[userID]
	if !ok {
		e.mu.Unlock()
		return
	}
	session := e.sessions[sessionID]
	session.cancel.Stop()
	e.removeLocked(session)
	other := session.other(userID)
	e.mu.Unlock()

	e.notifyStatus(other, sessionID, chat.CallStatusEnded)
	e.logger.Info().Str("session", sessionID).Str("user", string(userID)).Msg("Call ended by disconnect")
}

// expire fires on the auto-cancel timer. A session that already advanced
// past ringing is left alone; armed->canceled and armed->fired are the only
// terminal paths for the timer.
func (e *Engine) expire(sessionID string) {
	e.mu.Lock()
	session, ok := e.sessions[sessionID]
	if !ok || (session.Status != chat.CallStatusRequesting && session.Status != chat.CallStatusRinging) {
		e.mu.Unlock()
		return
	}
	e.removeLocked(session)
	e.mu.Unlock()

	e.notifyStatus(session.CallerID, sessionID, chat.CallStatusTimeout)
	e.notifyStatus(session.CalleeID, sessionID, chat.CallStatusTimeout)
	e.logger.Info().Str("session", sessionID).Msg("Call timed out")
}

// removeLocked deletes the session from both maps. Caller holds e.mu.
func (e *Engine) removeLocked(session *Session) {
	delete(e.sessions, session.ID)
	delete(e.usersCalling, session.CallerID)
	delete(e.usersCalling, session.CalleeID)
	e.metrics.ActiveCalls.Set(float64(len(e.sessions)))
}

func (e *Engine) notifyStatus(userID chat.UserID, sessionID string, status chat.CallStatus) {
	evt, err := chat.NewEvent(chat.EventCallStatus, chat.CallStatusEvent{SessionID: sessionID, Status: status})
	if err != nil {
		e.logger.Error().Err(err).Str("session", sessionID).Msg("Failed to build call status event")
		return
	}
	e.registry.SendToUser(userID, evt)
}
