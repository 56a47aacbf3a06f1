/*
File: internal/platform/store/redis_store.go
Description: Redis-backed message store. A per-conversation INCR counter
assigns the monotonic message ids and a sorted set keyed by id serves the
range scans that recovery needs.
*/
// Package store provides the durable message store implementations. Both
// backends honor the same contract: ids are assigned by the store, strictly
// increasing per conversation, and never reused.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

const (
	seqKeyFmt      = "chat:conv:%s:seq"
	messagesKeyFmt = "chat:conv:%s:messages"
	messageKeyFmt  = "chat:conv:%s:msg:%d"
)

// RedisStore implements chat.MessageStore on a Redis instance.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore is the constructor for the RedisStore. The client must
// already be connected; callers own its lifecycle.
func NewRedisStore(client *redis.Client, logger zerolog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// CreateMessage assigns the next id in the conversation and persists the
// hydrated message. The INCR counter is the source of truth for ordering;
// the sorted set scored by id serves range queries.
func (s *RedisStore) CreateMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	seqKey := fmt.Sprintf(seqKeyFmt, msg.ConversationID)
	id, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate message id: %w", err)
	}

	stored := &chat.Message{
		ID:             chat.MessageOffset(id),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Content:        msg.Content,
		Status:         chat.MessageStatusSent,
		CreatedAt:      time.Now().UTC(),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	msgKey := fmt.Sprintf(messageKeyFmt, msg.ConversationID, id)
	setKey := fmt.Sprintf(messagesKeyFmt, msg.ConversationID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, msgKey, data, 0)
	pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10)})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to persist message %d: %w", id, err)
	}
	return stored, nil
}

// FindMessagesNewerThan returns up to limit messages with id > offset,
// ascending. The sorted set yields the ids; the message bodies come back in
// one MGET.
func (s *RedisStore) FindMessagesNewerThan(ctx context.Context, conv chat.ConversationID, offset chat.MessageOffset, limit int) ([]*chat.Message, error) {
	setKey := fmt.Sprintf(messagesKeyFmt, conv)
	ids, err := s.client.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(int64(offset), 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation %s: %w", conv, err)
	}
	if len(ids) == 0 {
		return []*chat.Message{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			s.logger.Error().Str("member", idStr).Msg("Skipping malformed sorted-set member")
			continue
		}
		keys = append(keys, fmt.Sprintf(messageKeyFmt, conv, id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message bodies: %w", err)
	}

	messages := make([]*chat.Message, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// The counterpart string key expired or was deleted out of band.
			s.logger.Warn().Str("key", keys[i]).Msg("Sorted-set member has no body, skipping")
			continue
		}
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			s.logger.Error().Err(err).Str("key", keys[i]).Msg("Failed to unmarshal stored message, skipping")
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// UpdateMessageStatus rewrites the stored body with the new status.
func (s *RedisStore) UpdateMessageStatus(ctx context.Context, conv chat.ConversationID, id chat.MessageOffset, status chat.MessageStatus) error {
	msgKey := fmt.Sprintf(messageKeyFmt, conv, id)
	raw, err := s.client.Get(ctx, msgKey).Result()
	if errors.Is(err, redis.Nil) {
		return chat.NewError(chat.KindNotFound, "message not found")
	}
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", id, err)
	}

	var msg chat.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message %d: %w", id, err)
	}
	msg.Status = status

	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message %d: %w", id, err)
	}
	if err := s.client.Set(ctx, msgKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store updated message %d: %w", id, err)
	}
	return nil
}
