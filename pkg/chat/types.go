/*
File: pkg/chat/types.go
Description: Core domain types shared by every component of the chat
real-time core.
*/
// Package chat contains the public domain model, event contracts, error
// taxonomy, and collaborator interfaces for the chat service. It defines the
// contract for interacting with the real-time core.
package chat

import "time"

// UserID identifies an authenticated user.
type UserID string

// ConversationID identifies a direct or group conversation.
type ConversationID string

// MessageOffset is a strictly increasing message id assigned by the
// persistence layer at insert time. It doubles as the replay cursor for
// connection recovery: ids are monotonic per conversation, so "everything
// newer than offset N" is a well-defined, ordered range.
type MessageOffset int64

// MessageStatus tracks the delivery lifecycle of a persisted message.
type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusSeen MessageStatus = "seen"
)

// Message is a fully-hydrated, persisted chat message. This is the shape
// pushed to recipients and replayed during recovery.
type Message struct {
	ID             MessageOffset  `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	SenderID       UserID         `json:"senderId"`
	RecipientID    UserID         `json:"recipientId"`
	Content        string         `json:"content"`
	Status         MessageStatus  `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// NewMessage is the pre-persistence form of a message. The store assigns the
// id and creation timestamp.
type NewMessage struct {
	ConversationID ConversationID
	SenderID       UserID
	RecipientID    UserID
	Content        string
}

// CallStatus is the state of a voice-call session. Non-terminal states are
// requesting, ringing, accepted and connected; every other status is
// terminal and removes the session.
type CallStatus string

const (
	CallStatusRequesting CallStatus = "requesting"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusAccepted   CallStatus = "accepted"
	CallStatusConnected  CallStatus = "connected"
	CallStatusRejected   CallStatus = "rejected"
	CallStatusBusy       CallStatus = "busy"
	CallStatusOffline    CallStatus = "offline"
	CallStatusTimeout    CallStatus = "timeout"
	CallStatusEnded      CallStatus = "ended"
)

// Terminal reports whether the status ends the session.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusRejected, CallStatusBusy, CallStatusOffline, CallStatusTimeout, CallStatusEnded:
		return true
	}
	return false
}
