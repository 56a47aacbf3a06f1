/*
File: internal/realtime/router.go
Description: Dispatches validated inbound events to the fan-out service,
typing coordinator, and call signaling engine.
*/
package realtime

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/internal/call"
	"github.com/tinywideclouds/go-chat-service/internal/fanout"
	"github.com/tinywideclouds/go-chat-service/internal/registry"
	"github.com/tinywideclouds/go-chat-service/internal/typing"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// Router maps event types to component operations. Stateless; safe for
// concurrent use from many read loops.
type Router struct {
	fanout   *fanout.Service
	typing   *typing.Coordinator
	calls    *call.Engine
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewRouter creates the router.
func NewRouter(
	fanoutSvc *fanout.Service,
	typingCoord *typing.Coordinator,
	callEngine *call.Engine,
	reg *registry.Registry,
	logger zerolog.Logger,
) *Router {
	return &Router{
		fanout:   fanoutSvc,
		typing:   typingCoord,
		calls:    callEngine,
		registry: reg,
		logger:   logger.With().Str("component", "Router").Logger(),
	}
}

// userTarget adapts "every live connection of a user" to the single-handle
// Sender the typing coordinator expects.
type userTarget struct {
	registry *registry.Registry
	userID   chat.UserID
}

func (t *userTarget) ID() string          { return "user:" + string(t.userID) }
func (t *userTarget) UserID() chat.UserID { return t.userID }
func (t *userTarget) Send(evt chat.Event) error {
	t.registry.SendToUser(t.userID, evt)
	return nil
}

// Dispatch routes one inbound event. Returned errors carry a kind from the
// taxonomy and become rejection events at the caller.
func (r *Router) Dispatch(ctx context.Context, conn *Connection, evt chat.Event) error {
	switch evt.Type {
	case chat.EventSendMessage:
		return r.handleSend(ctx, conn, evt.Payload)
	case chat.EventRecoverConnection:
		return r.handleRecover(ctx, conn, evt.Payload)
	case chat.EventMessageSeen:
		return r.handleSeen(ctx, conn, evt.Payload)
	case chat.EventTyping:
		return r.handleTyping(conn, evt.Payload)
	case chat.EventCallRequest:
		return r.handleCallRequest(conn, evt.Payload)
	case chat.EventCallAccept:
		return r.handleCallSession(conn, evt.Payload, r.calls.Accept, chat.CallStatusAccepted)
	case chat.EventCallReject:
		return r.handleCallSession(conn, evt.Payload, r.calls.Reject, chat.CallStatusRejected)
	case chat.EventCallHangup:
		return r.handleCallSession(conn, evt.Payload, r.calls.Hangup, chat.CallStatusEnded)
	case chat.EventCallOfferAnswer:
		return r.handleOfferAnswer(conn, evt.Payload)
	case chat.EventCallIce:
		return r.handleIce(conn, evt.Payload)
	default:
		return chat.NewError(chat.KindValidation, "unknown event type")
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 {
		return p, chat.NewError(chat.KindValidation, "missing event payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, chat.WrapError(chat.KindValidation, "malformed event payload", err)
	}
	return p, nil
}

func (r *Router) handleSend(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decode[chat.SendMessagePayload](raw)
	if err != nil {
		return err
	}
	msg, err := r.fanout.Send(ctx, conn.userID, p)
	if err != nil {
		return err
	}

	ack, err := chat.NewEvent(chat.EventSendAck, chat.SendAckPayload{
		Token:          p.Token,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	if err != nil {
		return chat.WrapError(chat.KindInternal, "failed to build ack", err)
	}
	return conn.Send(ack)
}

func (r *Router) handleRecover(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decode[chat.RecoverConnectionPayload](raw)
	if err != nil {
		return err
	}
	msgs, err := r.fanout.Recover(ctx, conn.userID, p.ConversationID, p.Offset, p.Limit)
	if err != nil {
		return err
	}

	batch, err := chat.NewEvent(chat.EventRecovered, chat.RecoveredPayload{
		ConversationID: p.ConversationID,
		Messages:       msgs,
	})
	if err != nil {
		return chat.WrapError(chat.KindInternal, "failed to build recovery batch", err)
	}
	return conn.Send(batch)
}

func (r *Router) handleSeen(ctx context.Context, conn *Connection, raw json.RawMessage) error {
	p, err := decode[chat.MessageSeenPayload](raw)
	if err != nil {
		return err
	}
	return r.fanout.MarkSeen(ctx, conn.userID, p)
}

func (r *Router) handleTyping(conn *Connection, raw json.RawMessage) error {
	p, err := decode[chat.TypingPayload](raw)
	if err != nil {
		return err
	}
	if p.RecipientID == "" || p.ConversationID == "" {
		return chat.NewError(chat.KindValidation, "recipientId and conversationId are required")
	}

	target := &userTarget{registry: r.registry, userID: p.RecipientID}
	if p.Typing {
		r.typing.StartTyping(conn.userID, target, p.ConversationID)
	} else {
		r.typing.StopTyping(conn.userID)
	}

	evt, err := chat.NewEvent(chat.EventTyping, chat.TypingPayload{
		ConversationID: p.ConversationID,
		UserID:         conn.userID,
		Typing:         p.Typing,
	})
	if err != nil {
		return chat.WrapError(chat.KindInternal, "failed to build typing event", err)
	}
	_ = target.Send(evt)
	return nil
}

func (r *Router) handleCallRequest(conn *Connection, raw json.RawMessage) error {
	p, err := decode[chat.CallRequestPayload](raw)
	if err != nil {
		return err
	}
	result, err := r.calls.Request(conn.userID, p)
	if err != nil {
		return err
	}
	return r.replyStatus(conn, result)
}

// handleCallSession covers accept, reject and hangup: all take a session
// id, run one engine operation, and confirm the resulting status to the
// originating connection.
func (r *Router) handleCallSession(conn *Connection, raw json.RawMessage, op func(chat.UserID, string) error, status chat.CallStatus) error {
	p, err := decode[chat.CallSessionPayload](raw)
	if err != nil {
		return err
	}
	if p.SessionID == "" {
		return chat.NewError(chat.KindValidation, "sessionId is required")
	}
	if err := op(conn.userID, p.SessionID); err != nil {
		return err
	}
	return r.replyStatus(conn, chat.CallStatusEvent{SessionID: p.SessionID, Status: status})
}

func (r *Router) handleOfferAnswer(conn *Connection, raw json.RawMessage) error {
	p, err := decode[chat.CallOfferAnswerPayload](raw)
	if err != nil {
		return err
	}
	if p.SessionID == "" || len(p.SDP) == 0 {
		return chat.NewError(chat.KindValidation, "sessionId and sdp are required")
	}
	return r.calls.OfferAnswer(conn.userID, p)
}

func (r *Router) handleIce(conn *Connection, raw json.RawMessage) error {
	p, err := decode[chat.CallIcePayload](raw)
	if err != nil {
		return err
	}
	if p.SessionID == "" || len(p.Candidate) == 0 {
		return chat.NewError(chat.KindValidation, "sessionId and candidate are required")
	}
	return r.calls.Ice(conn.userID, p)
}

func (r *Router) replyStatus(conn *Connection, status chat.CallStatusEvent) error {
	evt, err := chat.NewEvent(chat.EventCallStatus, status)
	if err != nil {
		return chat.WrapError(chat.KindInternal, "failed to build call status", err)
	}
	return conn.Send(evt)
}
