/*
File: internal/test/fakes/fakes.go
Description: In-memory fakes for the store and policy collaborators.
*/
// Package fakes provides in-memory test doubles for the service's
// collaborators. These are used in the cmd local run mode and in
// integration-style tests.
package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// MessageStore is an in-memory chat.MessageStore with per-conversation
// monotonic id assignment, mirroring what the persistence layer guarantees.
type MessageStore struct {
	mu       sync.Mutex
	nextID   chat.MessageOffset
	messages map[chat.ConversationID][]*chat.Message
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[chat.ConversationID][]*chat.Message)}
}

func (s *MessageStore) CreateMessage(_ context.Context, msg chat.NewMessage) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	persisted := &chat.Message{
		ID:             s.nextID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Content:        msg.Content,
		Status:         chat.MessageStatusSent,
		CreatedAt:      time.Now(),
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], persisted)
	return persisted, nil
}

func (s *MessageStore) FindMessagesNewerThan(_ context.Context, conv chat.ConversationID, offset chat.MessageOffset, limit int) ([]*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[conv]
	idx := sort.Search(len(all), func(i int) bool { return all[i].ID > offset })

	var out []*chat.Message
	for _, m := range all[idx:] {
		if len(out) == limit {
			break
		}
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MessageStore) UpdateMessageStatus(_ context.Context, conv chat.ConversationID, id chat.MessageOffset, status chat.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[conv] {
		if m.ID == id {
			m.Status = status
			return nil
		}
	}
	return chat.NewError(chat.KindNotFound, "unknown message")
}

// AllowAllPolicy permits every send. Local development only.
type AllowAllPolicy struct{}

func NewAllowAllPolicy() *AllowAllPolicy { return &AllowAllPolicy{} }

func (p *AllowAllPolicy) IsFriend(_ context.Context, _, _ chat.UserID) (bool, error) {
	return true, nil
}

func (p *AllowAllPolicy) CanSendDirectMessage(_ context.Context, _, _ chat.UserID) (bool, error) {
	return true, nil
}

// DenyPolicy forbids every send; for exercising the FORBIDDEN path.
type DenyPolicy struct{}

func NewDenyPolicy() *DenyPolicy { return &DenyPolicy{} }

func (p *DenyPolicy) IsFriend(_ context.Context, _, _ chat.UserID) (bool, error) { return false, nil }

func (p *DenyPolicy) CanSendDirectMessage(_ context.Context, _, _ chat.UserID) (bool, error) {
	return false, nil
}
