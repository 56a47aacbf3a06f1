/*
File: internal/fanout/fanout.go
Description: Message fan-out and recovery service. Persists messages via
the store collaborator, pushes them to every destination connection, and
replays missed messages to reconnecting clients from a cursor.
*/
// Package fanout implements the send pipeline and the offset-based
// recovery path of the chat core.
package fanout

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/internal/dedup"
	"github.com/tinywideclouds/go-chat-service/internal/metrics"
	"github.com/tinywideclouds/go-chat-service/internal/registry"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

const (
	// DefaultRecoverLimit is the replay batch size when the client does not
	// ask for one.
	DefaultRecoverLimit = 20
	maxRecoverLimit     = 100
)

// Service wires the deduper, policy check, store and registry into the
// send path. Per-sender ordering across simultaneous connections is only as
// strong as the store's id assignment under concurrency; Send takes no
// per-sender lock. That relaxation is deliberate.
type Service struct {
	store    chat.MessageStore
	policy   chat.RelationshipPolicy
	deduper  *dedup.Deduper
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates the fan-out service.
func New(
	deps *chat.Dependencies,
	deduper *dedup.Deduper,
	reg *registry.Registry,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		store:    deps.Store,
		policy:   deps.Policy,
		deduper:  deduper,
		registry: reg,
		metrics:  m,
		logger:   logger.With().Str("component", "Fanout").Logger(),
	}
}

// Send runs the full submission pipeline: dedupe, permission check,
// persist, then best-effort push. The returned message confirms persistence
// and local dispatch attempt only; recipient delivery is confirmed by the
// separate seen event. Push failures are not retried here: the recipient's
// recovery on next connect is the system's retry mechanism.
func (s *Service) Send(ctx context.Context, senderID chat.UserID, p chat.SendMessagePayload) (*chat.Message, error) {
	if p.Token == "" || p.ConversationID == "" || p.RecipientID == "" || p.Content == "" {
		return nil, chat.NewError(chat.KindValidation, "token, conversationId, recipientId and content are required")
	}

	// 1. Delivery-token dedupe. The client needs a distinguishable signal
	// here so it stops re-retrying.
	if !s.deduper.IsUniqueToken(senderID, p.Token) {
		return nil, chat.NewError(chat.KindOverlap, "message overlaps an earlier send")
	}

	// 2. Relationship / permission check.
	ok, err := s.policy.CanSendDirectMessage(ctx, senderID, p.RecipientID)
	if err != nil {
		return nil, chat.WrapError(chat.KindInternal, "permission check failed", err)
	}
	if !ok {
		return nil, chat.NewError(chat.KindForbidden, "sender may not message this recipient")
	}

	// 3. Persist. The store assigns the monotonic id.
	msg, err := s.store.CreateMessage(ctx, chat.NewMessage{
		ConversationID: p.ConversationID,
		SenderID:       senderID,
		RecipientID:    p.RecipientID,
		Content:        p.Content,
	})
	if err != nil {
		return nil, chat.WrapError(chat.KindInternal, "failed to persist message", err)
	}
	s.metrics.MessagesSent.Inc()

	// 4. Best-effort push, kept visibly separate from the persist step: a
	// push failure here is a no-op, never an error to the sender.
	evt, err := chat.NewEvent(chat.EventMessage, msg)
	if err != nil {
		s.logger.Error().Err(err).Int64("msg", int64(msg.ID)).Msg("Failed to build message event")
		return msg, nil
	}
	delivered, failed := s.registry.SendToUser(p.RecipientID, evt)

	// 5. The sender's own connections get the hydrated message too, so
	// multi-device senders stay in sync.
	s.registry.SendToUser(senderID, evt)

	s.logger.Debug().
		Int64("msg", int64(msg.ID)).
		Str("conversation", string(p.ConversationID)).
		Int("delivered", delivered).
		Int("failed", failed).
		Msg("Message fanned out")
	return msg, nil
}

// Recover returns all messages in the conversation with id > offset,
// ascending, capped at limit. Used once at connection establishment to
// paper over messages missed while disconnected.
func (s *Service) Recover(ctx context.Context, userID chat.UserID, conv chat.ConversationID, offset chat.MessageOffset, limit int) ([]*chat.Message, error) {
	if conv == "" {
		return nil, chat.NewError(chat.KindValidation, "conversationId is required")
	}
	if limit <= 0 {
		limit = DefaultRecoverLimit
	} else if limit > maxRecoverLimit {
		limit = maxRecoverLimit
	}

	msgs, err := s.store.FindMessagesNewerThan(ctx, conv, offset, limit)
	if err != nil {
		return nil, chat.WrapError(chat.KindInternal, "failed to load missed messages", err)
	}
	s.metrics.MessagesRecovered.Add(float64(len(msgs)))

	s.logger.Debug().
		Str("user", string(userID)).
		Str("conversation", string(conv)).
		Int64("offset", int64(offset)).
		Int("count", len(msgs)).
		Msg("Recovered missed messages")
	return msgs, nil
}

// MarkSeen transitions a message to seen and notifies the original sender's
// connections.
func (s *Service) MarkSeen(ctx context.Context, seenBy chat.UserID, p chat.MessageSeenPayload) error {
	if p.ConversationID == "" || p.MessageID == 0 || p.SenderID == "" {
		return chat.NewError(chat.KindValidation, "conversationId, messageId and senderId are required")
	}

	if err := s.store.UpdateMessageStatus(ctx, p.ConversationID, p.MessageID, chat.MessageStatusSeen); err != nil {
		if chat.KindOf(err) == chat.KindNotFound {
			return err
		}
		return chat.WrapError(chat.KindInternal, "failed to update message status", err)
	}

	evt, err := chat.NewEvent(chat.EventMessageSeen, chat.MessageSeenPayload{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		SeenBy:         seenBy,
	})
	if err != nil {
		return chat.WrapError(chat.KindInternal, "failed to build seen event", err)
	}
	s.registry.SendToUser(p.SenderID, evt)
	return nil
}
