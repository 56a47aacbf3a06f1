/*
File: pkg/chat/chat.go
Description: Collaborator interfaces consumed by the real-time core, the
connection send capability, and the dependency-injection struct.
*/
package chat

import "context"

// Sender is the capability half of a connection handle: something that can
// push one typed event to a live transport. The registry is the single
// source of truth for whether a Sender is still live; a push to a closed
// connection returns an error and is never retried.
type Sender interface {
	// ID is the opaque connection id, unique per transport session.
	ID() string
	// UserID is the authenticated owner of the connection.
	UserID() UserID
	// Send pushes one event. It must not block on slow clients; an
	// implementation with a full outbound buffer fails fast instead.
	Send(evt Event) error
}

// MessageStore is the persistence collaborator. Assumed strongly consistent
// for a single conversation: ids are assigned at insert time and are
// monotonic in call order per conversation.
type MessageStore interface {
	// CreateMessage persists a message and returns it fully hydrated with
	// its assigned id and timestamp.
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)
	// FindMessagesNewerThan returns messages with id > offset in ascending
	// id order, capped at limit.
	FindMessagesNewerThan(ctx context.Context, conv ConversationID, offset MessageOffset, limit int) ([]*Message, error)
	// UpdateMessageStatus transitions a message's delivery status.
	UpdateMessageStatus(ctx context.Context, conv ConversationID, id MessageOffset, status MessageStatus) error
}

// RelationshipPolicy is the permission collaborator consulted before a send
// is accepted.
type RelationshipPolicy interface {
	IsFriend(ctx context.Context, a, b UserID) (bool, error)
	CanSendDirectMessage(ctx context.Context, sender, recipient UserID) (bool, error)
}

// Dependencies holds the external collaborators the core needs to operate.
// This struct is used for dependency injection.
type Dependencies struct {
	Store  MessageStore
	Policy RelationshipPolicy
}
