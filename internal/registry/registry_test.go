package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-service/internal/metrics"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

// testSender is a minimal in-memory connection handle.
type testSender struct {
	id     string
	userID chat.UserID

	mu     sync.Mutex
	events []chat.Event
	fail   bool
}

func (s *testSender) ID() string          { return s.id }
func (s *testSender) UserID() chat.UserID { return s.userID }
func (s *testSender) Send(evt chat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection closed")
	}
	s.events = append(s.events, evt)
	return nil
}

func newTestSender(id string, userID chat.UserID) *testSender {
	return &testSender{id: id, userID: userID}
}

func setup(t *testing.T) *Registry {
	t.Helper()
	return New(metrics.NewTest(), zerolog.Nop())
}

func TestRegistry_AddAndGet(t *testing.T) {
	r := setup(t)
	userID := chat.UserID("user-1")

	assert.Nil(t, r.Get(userID), "absent user must return nil")
	assert.False(t, r.IsOnline(userID))

	s1 := newTestSender("conn-1", userID)
	s2 := newTestSender("conn-2", userID)
	r.Add(userID, s1)
	r.Add(userID, s2)

	handles := r.Get(userID)
	require.Len(t, handles, 2, "multi-device user must hold both handles")
	assert.True(t, r.IsOnline(userID))
	assert.Same(t, s1, r.GetByConnID("conn-1"))
}

func TestRegistry_RemoveSingleHandle(t *testing.T) {
	r := setup(t)
	userID := chat.UserID("user-1")
	s1 := newTestSender("conn-1", userID)
	s2 := newTestSender("conn-2", userID)
	r.Add(userID, s1)
	r.Add(userID, s2)

	r.Remove(userID, "conn-1")

	handles := r.Get(userID)
	require.Len(t, handles, 1)
	assert.Equal(t, "conn-2", handles[0].ID())
	assert.Nil(t, r.GetByConnID("conn-1"))
	assert.True(t, r.IsOnline(userID), "user still online on remaining device")
}

func TestRegistry_RemoveAllHandles(t *testing.T) {
	r := setup(t)
	userID := chat.UserID("user-1")
	r.Add(userID, newTestSender("conn-1", userID))
	r.Add(userID, newTestSender("conn-2", userID))

	r.Remove(userID, "")

	assert.Nil(t, r.Get(userID))
	assert.False(t, r.IsOnline(userID))

	// Removing an already-absent user is a no-op.
	r.Remove(userID, "")
	r.Remove(chat.UserID("never-seen"), "conn-9")
}

func TestRegistry_OnLastDisconnect(t *testing.T) {
	r := setup(t)
	userID := chat.UserID("user-1")

	var gone []chat.UserID
	r.OnLastDisconnect(func(u chat.UserID) { gone = append(gone, u) })

	r.Add(userID, newTestSender("conn-1", userID))
	r.Add(userID, newTestSender("conn-2", userID))

	r.Remove(userID, "conn-1")
	assert.Empty(t, gone, "callback must not fire while a connection remains")

	r.Remove(userID, "conn-2")
	require.Len(t, gone, 1)
	assert.Equal(t, userID, gone[0])
}

func TestRegistry_SendToUser(t *testing.T) {
	r := setup(t)
	userID := chat.UserID("user-1")
	ok := newTestSender("conn-ok", userID)
	broken := newTestSender("conn-broken", userID)
	broken.fail = true
	r.Add(userID, ok)
	r.Add(userID, broken)

	evt, err := chat.NewEvent(chat.EventMessage, chat.Message{ID: 1})
	require.NoError(t, err)

	delivered, failed := r.SendToUser(userID, evt)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, failed)
	assert.Len(t, ok.events, 1)
}

// For all interleavings of concurrent Add/Remove, Get must reflect exactly
// the handles added minus those removed: no lost updates.
func TestRegistry_ConcurrentAddRemove(t *testing.T) {
	r := setup(t)
	userID := chat.UserID("user-1")

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("conn-%d-%d", w, i)
				r.Add(userID, newTestSender(id, userID))
				if i%2 == 0 {
					r.Remove(userID, id)
				}
			}
		}(w)
	}
	wg.Wait()

	// Each worker added 50 and removed the 25 even-indexed ones.
	handles := r.Get(userID)
	assert.Len(t, handles, workers*perWorker/2)
}
