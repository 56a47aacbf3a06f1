/*
File: internal/typing/typing.go
Description: Typing-presence coordinator. Emits transient typing state with
automatic expiry so the recipient's UI self-heals if the sender's "stopped
typing" signal is lost.
*/
// Package typing coordinates transient typing indicators between two
// parties of a conversation.
package typing

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// DefaultExpiry is how long a typing indicator stays up without a refresh.
const DefaultExpiry = 4 * time.Second

// entry is the keyed state guarded by one timer. The cancel handle is
// stored alongside the entry it guards; expiry and cancellation compare
// entry identity so a timer that fires after replacement is a safe no-op.
type entry struct {
	timer          *time.Timer
	target         chat.Sender
	conversationID chat.ConversationID
}

// Coordinator holds at most one pending expiry timer per sender. Two states
// per sender: idle (no entry) and typing (entry armed). StartTyping moves
// idle->typing or typing->typing with a timer reset; expiry or StopTyping
// moves back to idle.
type Coordinator struct {
	mu      sync.Mutex
	pending map[chat.UserID]*entry

	expiry time.Duration
	logger zerolog.Logger
}

// New creates a coordinator. A non-positive expiry falls back to the
// default.
func New(expiry time.Duration, logger zerolog.Logger) *Coordinator {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Coordinator{
		pending: make(map[chat.UserID]*entry),
		expiry:  expiry,
		logger:  logger.With().Str("component", "TypingCoordinator").Logger(),
	}
}

// StartTyping cancels any prior timer for the sender and arms a new one.
// On expiry a "typing stopped" event is pushed to the target handle for the
// conversation.
func (c *Coordinator) StartTyping(senderID chat.UserID, target chat.Sender, conversationID chat.ConversationID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.pending[senderID]; ok {
		prev.timer.Stop()
	}

	e := &entry{target: target, conversationID: conversationID}
	e.timer = time.AfterFunc(c.expiry, func() { c.expire(senderID, e) })
	c.pending[senderID] = e
}

// StopTyping cancels the sender's timer. Idempotent; safe when no timer
// exists and safe after the timer already fired.
func (c *Coordinator) StopTyping(senderID chat.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.pending[senderID]; ok {
		e.timer.Stop()
		delete(c.pending, senderID)
	}
}

// expire fires on the timer's scheduler. If the entry was replaced or
// canceled between arming and firing, it does nothing.
func (c *Coordinator) expire(senderID chat.UserID, e *entry) {
	c.mu.Lock()
	current, ok := c.pending[senderID]
	if !ok || current != e {
		c.mu.Unlock()
		return
	}
	delete(c.pending, senderID)
	c.mu.Unlock()

	evt, err := chat.NewEvent(chat.EventTyping, chat.TypingPayload{
		ConversationID: e.conversationID,
		UserID:         senderID,
		Typing:         false,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build typing expiry event")
		return
	}
	if err := e.target.Send(evt); err != nil {
		// Target went away; its own recovery path covers the rest.
		c.logger.Debug().Err(err).Str("sender", string(senderID)).Msg("Typing expiry push failed")
	}
}
