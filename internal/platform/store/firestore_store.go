/*
File: internal/platform/store/firestore_store.go
Description: Firestore-backed message store. A per-conversation counter
document assigns ids inside a transaction; the message documents carry the
numeric id for ordered range queries.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

const (
	conversationsCollection = "conversations"
	messagesSubcollection   = "messages"
	counterDoc              = "_meta"
)

// conversationMeta is the per-conversation counter document. LastID is the
// highest id handed out so far.
type conversationMeta struct {
	LastID int64 `firestore:"last_id"`
}

// messageDoc is the shape of a message document in Firestore.
type messageDoc struct {
	ID             int64     `firestore:"id"`
	SenderID       string    `firestore:"sender_id"`
	RecipientID    string    `firestore:"recipient_id"`
	Content        string    `firestore:"content"`
	Status         string    `firestore:"status"`
	CreatedAt      time.Time `firestore:"created_at"`
	ConversationID string    `firestore:"conversation_id"`
}

// FirestoreStore implements chat.MessageStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirestoreStore is the constructor for the FirestoreStore.
func NewFirestoreStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	return &FirestoreStore{
		client: client,
		logger: logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

func (s *FirestoreStore) conversation(conv chat.ConversationID) *firestore.DocumentRef {
	return s.client.Collection(conversationsCollection).Doc(string(conv))
}

// CreateMessage allocates the next id from the conversation's counter
// document and writes the message in the same transaction, so ids stay
// strictly increasing even under concurrent senders.
func (s *FirestoreStore) CreateMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	convRef := s.conversation(msg.ConversationID)
	metaRef := convRef.Collection(messagesSubcollection).Doc(counterDoc)

	var assigned int64
	createdAt := time.Now().UTC()

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var meta conversationMeta
		snap, err := tx.Get(metaRef)
		switch {
		case err == nil:
			if err := snap.DataTo(&meta); err != nil {
				return fmt.Errorf("failed to read conversation counter: %w", err)
			}
		case status.Code(err) == codes.NotFound:
			// First message in the conversation.
		default:
			return err
		}

		assigned = meta.LastID + 1
		if err := tx.Set(metaRef, &conversationMeta{LastID: assigned}); err != nil {
			return err
		}

		docRef := convRef.Collection(messagesSubcollection).Doc(messageDocID(assigned))
		return tx.Set(docRef, &messageDoc{
			ID:             assigned,
			SenderID:       string(msg.SenderID),
			RecipientID:    string(msg.RecipientID),
			Content:        msg.Content,
			Status:         string(chat.MessageStatusSent),
			CreatedAt:      createdAt,
			ConversationID: string(msg.ConversationID),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	return &chat.Message{
		ID:             chat.MessageOffset(assigned),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Content:        msg.Content,
		Status:         chat.MessageStatusSent,
		CreatedAt:      createdAt,
	}, nil
}

// FindMessagesNewerThan returns up to limit messages with id > offset,
// ascending by id.
func (s *FirestoreStore) FindMessagesNewerThan(ctx context.Context, conv chat.ConversationID, offset chat.MessageOffset, limit int) ([]*chat.Message, error) {
	query := s.conversation(conv).Collection(messagesSubcollection).
		Where("id", ">", int64(offset)).
		OrderBy("id", firestore.Asc).
		Limit(limit)

	docSnaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", conv, err)
	}

	messages := make([]*chat.Message, 0, len(docSnaps))
	for _, snap := range docSnaps {
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Error().Err(err).Str("doc_id", snap.Ref.ID).Msg("Failed to unmarshal message document, skipping")
			continue
		}
		messages = append(messages, &chat.Message{
			ID:             chat.MessageOffset(doc.ID),
			ConversationID: conv,
			SenderID:       chat.UserID(doc.SenderID),
			RecipientID:    chat.UserID(doc.RecipientID),
			Content:        doc.Content,
			Status:         chat.MessageStatus(doc.Status),
			CreatedAt:      doc.CreatedAt,
		})
	}
	return messages, nil
}

// UpdateMessageStatus sets the status field on an existing message document.
func (s *FirestoreStore) UpdateMessageStatus(ctx context.Context, conv chat.ConversationID, id chat.MessageOffset, st chat.MessageStatus) error {
	docRef := s.conversation(conv).Collection(messagesSubcollection).Doc(messageDocID(int64(id)))
	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "status", Value: string(st)},
	})
	if status.Code(err) == codes.NotFound {
		return chat.NewError(chat.KindNotFound, "message not found")
	}
	if err != nil {
		return fmt.Errorf("failed to update message %d: %w", id, err)
	}
	return nil
}

// messageDocID zero-pads the numeric id so document ids sort the same as
// the ids themselves.
func messageDocID(id int64) string {
	return fmt.Sprintf("%020s", strconv.FormatInt(id, 10))
}
