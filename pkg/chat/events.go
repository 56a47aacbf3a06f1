/*
File: pkg/chat/events.go
Description: The WebSocket wire contract: the event envelope plus every
inbound and outbound payload shape.
*/
package chat

import (
	"encoding/json"
	"fmt"
)

// EventType names one kind of realtime event.
type EventType string

// Inbound event types (client to server).
const (
	EventSendMessage       EventType = "send_message"
	EventRecoverConnection EventType = "recover_connection"
	EventMessageSeen       EventType = "message_seen"
	EventTyping            EventType = "typing"
	EventCallRequest       EventType = "call_request"
	EventCallAccept        EventType = "call_accept"
	EventCallReject        EventType = "call_reject"
	EventCallHangup        EventType = "call_hangup"
	EventCallOfferAnswer   EventType = "call_offer_answer"
	EventCallIce           EventType = "call_ice"
)

// Outbound event types (server to client). Typing, seen, and the call
// signal relays reuse the inbound names.
const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventMessage      EventType = "message"
	EventSendAck      EventType = "send_ack"
	EventRecovered    EventType = "recovered_connection"
	EventCallStatus   EventType = "call_status"
	EventRejection    EventType = "rejection"
	EventRateLimited  EventType = "rate_limited"
)

// Event is the envelope for every frame on the wire, in both directions.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals a payload into an envelope.
func NewEvent(t EventType, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: raw}, nil
}

// --- Inbound payloads ---

// SendMessagePayload submits a new direct message.
type SendMessagePayload struct {
	Token          string         `json:"token"`
	ConversationID ConversationID `json:"conversationId"`
	RecipientID    UserID         `json:"recipientId"`
	Content        string         `json:"content"`
}

// RecoverConnectionPayload asks for replay of messages missed while
// disconnected. Offset is exclusive.
type RecoverConnectionPayload struct {
	ConversationID ConversationID `json:"conversationId"`
	Offset         MessageOffset  `json:"offset"`
	Limit          int            `json:"limit,omitempty"`
}

// MessageSeenPayload marks a message as seen by the recipient. Inbound,
// SenderID names the original sender to notify; outbound, SeenBy names the
// user who saw the message.
type MessageSeenPayload struct {
	ConversationID ConversationID `json:"conversationId"`
	MessageID      MessageOffset  `json:"messageId"`
	SenderID       UserID         `json:"senderId,omitempty"`
	SeenBy         UserID         `json:"seenBy,omitempty"`
}

// TypingPayload carries transient typing state. Inbound, RecipientID names
// the party to notify; outbound, UserID names who is typing.
type TypingPayload struct {
	ConversationID ConversationID `json:"conversationId"`
	RecipientID    UserID         `json:"recipientId,omitempty"`
	UserID         UserID         `json:"userId,omitempty"`
	Typing         bool           `json:"typing"`
}

// CallRequestPayload initiates a voice call.
type CallRequestPayload struct {
	CalleeID       UserID         `json:"calleeId"`
	ConversationID ConversationID `json:"conversationId"`
}

// CallSessionPayload references an existing call session. Used by accept,
// reject and hangup.
type CallSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// CallOfferAnswerPayload relays an opaque SDP offer or answer. The engine
// never interprets the SDP content.
type CallOfferAnswerPayload struct {
	SessionID string          `json:"sessionId"`
	SDP       json.RawMessage `json:"sdp"`
}

// CallIcePayload relays an opaque ICE candidate.
type CallIcePayload struct {
	SessionID string          `json:"sessionId"`
	Candidate json.RawMessage `json:"candidate"`
}

// --- Outbound payloads ---

// ConnectedPayload confirms a successful handshake to the new connection.
type ConnectedPayload struct {
	ConnectionID     string `json:"connectionId"`
	ServerInstanceID string `json:"serverInstanceId"`
}

// DisconnectedPayload tells a user's remaining devices that one of their
// connections went away.
type DisconnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// SendAckPayload confirms persistence and local dispatch of a send. It is
// not a delivery confirmation; that is the separate seen event.
type SendAckPayload struct {
	Token          string         `json:"token"`
	MessageID      MessageOffset  `json:"messageId"`
	ConversationID ConversationID `json:"conversationId"`
}

// RecoveredPayload is the batch replay returned for a recovery request,
// strictly ascending by message id.
type RecoveredPayload struct {
	ConversationID ConversationID `json:"conversationId"`
	Messages       []*Message     `json:"messages"`
}

// CallRequestEvent notifies a callee of an incoming call.
type CallRequestEvent struct {
	SessionID      string         `json:"sessionId"`
	CallerID       UserID         `json:"callerId"`
	ConversationID ConversationID `json:"conversationId"`
}

// CallStatusEvent reports a session state change to one party.
type CallStatusEvent struct {
	SessionID string     `json:"sessionId"`
	Status    CallStatus `json:"status"`
}

// RejectionPayload is the structured error sent back to the originating
// connection when an inbound event fails. Ref echoes the inbound event type
// so the client can correlate.
type RejectionPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Ref     EventType `json:"ref,omitempty"`
}
