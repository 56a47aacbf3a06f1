package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-service/internal/dedup"
	"github.com/tinywideclouds/go-chat-service/internal/metrics"
	"github.com/tinywideclouds/go-chat-service/internal/registry"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// --- Mocks ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateMessage(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	args := m.Called(ctx, msg)
	var result *chat.Message
	if val, ok := args.Get(0).(*chat.Message); ok {
		result = val
	}
	return result, args.Error(1)
}

func (m *mockStore) FindMessagesNewerThan(ctx context.Context, conv chat.ConversationID, offset chat.MessageOffset, limit int) ([]*chat.Message, error) {
	args := m.Called(ctx, conv, offset, limit)
	var result []*chat.Message
	if val, ok := args.Get(0).([]*chat.Message); ok {
		result = val
	}
	return result, args.Error(1)
}

func (m *mockStore) UpdateMessageStatus(ctx context.Context, conv chat.ConversationID, id chat.MessageOffset, status chat.MessageStatus) error {
	args := m.Called(ctx, conv, id, status)
	return args.Error(0)
}

type mockPolicy struct {
	mock.Mock
}

func (m *mockPolicy) IsFriend(ctx context.Context, a, b chat.UserID) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}

func (m *mockPolicy) CanSendDirectMessage(ctx context.Context, sender, recipient chat.UserID) (bool, error) {
	args := m.Called(ctx, sender, recipient)
	return args.Bool(0), args.Error(1)
}

type recordingSender struct {
	id     string
	userID chat.UserID

	mu     sync.Mutex
	events []chat.Event
}

func (s *recordingSender) ID() string          { return s.id }
func (s *recordingSender) UserID() chat.UserID { return s.userID }
func (s *recordingSender) Send(evt chat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// testFixture holds all the components for a fan-out test.
type testFixture struct {
	svc      *Service
	store    *mockStore
	policy   *mockPolicy
	registry *registry.Registry
	deduper  *dedup.Deduper
}

func setup(t *testing.T) *testFixture {
	t.Helper()
	store := new(mockStore)
	policy := new(mockPolicy)
	m := metrics.NewTest()
	reg := registry.New(m, zerolog.Nop())
	deduper := dedup.New()

	svc := New(&chat.Dependencies{Store: store, Policy: policy}, deduper, reg, m, zerolog.Nop())
	return &testFixture{svc: svc, store: store, policy: policy, registry: reg, deduper: deduper}
}

func validPayload() chat.SendMessagePayload {
	return chat.SendMessagePayload{
		Token:          "tok-1",
		ConversationID: "conv-1",
		RecipientID:    "bob",
		Content:        "hello",
	}
}

func TestSend_PersistsAndFansOut(t *testing.T) {
	fx := setup(t)
	sender := chat.UserID("alice")

	// Bob is online on two devices; Alice has a second device too.
	bob1 := &recordingSender{id: "bob-1", userID: "bob"}
	bob2 := &recordingSender{id: "bob-2", userID: "bob"}
	alice2 := &recordingSender{id: "alice-2", userID: "alice"}
	fx.registry.Add("bob", bob1)
	fx.registry.Add("bob", bob2)
	fx.registry.Add("alice", alice2)

	persisted := &chat.Message{
		ID:             42,
		ConversationID: "conv-1",
		SenderID:       sender,
		RecipientID:    "bob",
		Content:        "hello",
		Status:         chat.MessageStatusSent,
		CreatedAt:      time.Now(),
	}
	fx.policy.On("CanSendDirectMessage", mock.Anything, sender, chat.UserID("bob")).Return(true, nil).Once()
	fx.store.On("CreateMessage", mock.Anything, mock.AnythingOfType("chat.NewMessage")).Return(persisted, nil).Once()

	msg, err := fx.svc.Send(context.Background(), sender, validPayload())
	require.NoError(t, err)
	assert.Equal(t, chat.MessageOffset(42), msg.ID)

	// Every destination connection, including the sender's other device,
	// received the hydrated message.
	assert.Len(t, bob1.events, 1)
	assert.Len(t, bob2.events, 1)
	assert.Len(t, alice2.events, 1)
	assert.Equal(t, chat.EventMessage, bob1.events[0].Type)

	fx.store.AssertExpectations(t)
	fx.policy.AssertExpectations(t)
}

func TestSend_DuplicateTokenRejectedWithOverlap(t *testing.T) {
	fx := setup(t)
	sender := chat.UserID("alice")

	persisted := &chat.Message{ID: 1, ConversationID: "conv-1", SenderID: sender, RecipientID: "bob"}
	fx.policy.On("CanSendDirectMessage", mock.Anything, sender, chat.UserID("bob")).Return(true, nil).Once()
	fx.store.On("CreateMessage", mock.Anything, mock.Anything).Return(persisted, nil).Once()

	_, err := fx.svc.Send(context.Background(), sender, validPayload())
	require.NoError(t, err)

	// The retry presents the same token.
	_, err = fx.svc.Send(context.Background(), sender, validPayload())
	require.Error(t, err)
	assert.Equal(t, chat.KindOverlap, chat.KindOf(err))

	// The duplicate never reached the policy check or the store.
	fx.store.AssertNumberOfCalls(t, "CreateMessage", 1)
	fx.policy.AssertNumberOfCalls(t, "CanSendDirectMessage", 1)
}

func TestSend_ForbiddenWhenPolicyDenies(t *testing.T) {
	fx := setup(t)
	fx.policy.On("CanSendDirectMessage", mock.Anything, chat.UserID("alice"), chat.UserID("bob")).Return(false, nil).Once()

	_, err := fx.svc.Send(context.Background(), "alice", validPayload())
	require.Error(t, err)
	assert.Equal(t, chat.KindForbidden, chat.KindOf(err))
	fx.store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSend_StoreFailureIsInternal(t *testing.T) {
	fx := setup(t)
	fx.policy.On("CanSendDirectMessage", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()
	fx.store.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("store down")).Once()

	_, err := fx.svc.Send(context.Background(), "alice", validPayload())
	require.Error(t, err)
	assert.Equal(t, chat.KindInternal, chat.KindOf(err))
	assert.Equal(t, "internal error", chat.MessageOf(err), "collaborator detail must not leak")
}

func TestSend_ValidationRejectsEmptyFields(t *testing.T) {
	fx := setup(t)
	p := validPayload()
	p.Token = ""

	_, err := fx.svc.Send(context.Background(), "alice", p)
	require.Error(t, err)
	assert.Equal(t, chat.KindValidation, chat.KindOf(err))
}

func TestRecover_AscendingCappedBatch(t *testing.T) {
	fx := setup(t)

	// Messages 6..8 exist past the cursor; limit 3 trims id 9.
	batch := []*chat.Message{{ID: 6}, {ID: 7}, {ID: 8}}
	fx.store.On("FindMessagesNewerThan", mock.Anything, chat.ConversationID("conv-1"), chat.MessageOffset(5), 3).
		Return(batch, nil).Once()

	msgs, err := fx.svc.Recover(context.Background(), "alice", "conv-1", 5, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, chat.MessageOffset(6), msgs[0].ID)
	assert.Equal(t, chat.MessageOffset(7), msgs[1].ID)
	assert.Equal(t, chat.MessageOffset(8), msgs[2].ID)
}

func TestRecover_LimitClamping(t *testing.T) {
	fx := setup(t)

	fx.store.On("FindMessagesNewerThan", mock.Anything, chat.ConversationID("conv-1"), chat.MessageOffset(0), DefaultRecoverLimit).
		Return([]*chat.Message{}, nil).Once()
	_, err := fx.svc.Recover(context.Background(), "alice", "conv-1", 0, 0)
	require.NoError(t, err)

	fx.store.On("FindMessagesNewerThan", mock.Anything, chat.ConversationID("conv-1"), chat.MessageOffset(0), maxRecoverLimit).
		Return([]*chat.Message{}, nil).Once()
	_, err = fx.svc.Recover(context.Background(), "alice", "conv-1", 0, 10_000)
	require.NoError(t, err)

	fx.store.AssertExpectations(t)
}

func TestMarkSeen_UpdatesStatusAndNotifiesSender(t *testing.T) {
	fx := setup(t)

	aliceConn := &recordingSender{id: "alice-1", userID: "alice"}
	fx.registry.Add("alice", aliceConn)

	fx.store.On("UpdateMessageStatus", mock.Anything, chat.ConversationID("conv-1"), chat.MessageOffset(42), chat.MessageStatusSeen).
		Return(nil).Once()

	err := fx.svc.MarkSeen(context.Background(), "bob", chat.MessageSeenPayload{
		ConversationID: "conv-1",
		MessageID:      42,
		SenderID:       "alice",
	})
	require.NoError(t, err)

	require.Len(t, aliceConn.events, 1)
	assert.Equal(t, chat.EventMessageSeen, aliceConn.events[0].Type)
	fx.store.AssertExpectations(t)
}
