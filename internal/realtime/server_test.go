package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-service/internal/call"
	"github.com/tinywideclouds/go-chat-service/internal/dedup"
	"github.com/tinywideclouds/go-chat-service/internal/fanout"
	"github.com/tinywideclouds/go-chat-service/internal/metrics"
	"github.com/tinywideclouds/go-chat-service/internal/middleware"
	"github.com/tinywideclouds/go-chat-service/internal/registry"
	"github.com/tinywideclouds/go-chat-service/internal/test/fakes"
	"github.com/tinywideclouds/go-chat-service/internal/typing"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

type testFixture struct {
	srv      *Server
	registry *registry.Registry
	wsServer *httptest.Server
}

func setup(t *testing.T) *testFixture {
	t.Helper()
	logger := zerolog.Nop()
	m := metrics.NewTest()

	reg := registry.New(m, logger)
	deduper := dedup.New()
	reg.OnLastDisconnect(deduper.Clear)

	deps := &chat.Dependencies{Store: fakes.NewMessageStore(), Policy: fakes.NewAllowAllPolicy()}
	fanoutSvc := fanout.New(deps, deduper, reg, m, logger)
	typingCoord := typing.New(50*time.Millisecond, logger)
	callEngine := call.New(reg, time.Minute, metrics.NewTest(), logger)
	router := NewRouter(fanoutSvc, typingCoord, callEngine, reg, logger)

	srv := NewServer("0", middleware.DevAuth(), reg, router, m, logger)
	wsServer := httptest.NewServer(srv.base.Mux())
	t.Cleanup(wsServer.Close)

	return &testFixture{srv: srv, registry: reg, wsServer: wsServer}
}

// connect dials the test server as the given user and consumes the
// connected handshake event.
func (fx *testFixture) connect(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(fx.wsServer.URL, "http") + "/connect?as=" + user

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "Failed to dial test WebSocket server")
	t.Cleanup(func() { _ = conn.Close() })

	evt := readEvent(t, conn, chat.EventConnected)
	var payload chat.ConnectedPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	require.NotEmpty(t, payload.ConnectionID)
	return conn
}

// readEvent reads frames until one of the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want chat.EventType) chat.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var evt chat.Event
		require.NoError(t, conn.ReadJSON(&evt), "timed out waiting for %s", want)
		if evt.Type == want {
			return evt
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, evtType chat.EventType, payload any) {
	t.Helper()
	evt, err := chat.NewEvent(evtType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(evt))
}

func TestServer_SendMessage_DeliveredAndAcked(t *testing.T) {
	fx := setup(t)
	alice := fx.connect(t, "alice")
	bob := fx.connect(t, "bob")

	send(t, alice, chat.EventSendMessage, chat.SendMessagePayload{
		Token:          "tok-1",
		ConversationID: "conv-1",
		RecipientID:    "bob",
		Content:        "hello bob",
	})

	// Bob receives the hydrated message.
	evt := readEvent(t, bob, chat.EventMessage)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(evt.Payload, &msg))
	assert.Equal(t, chat.UserID("alice"), msg.SenderID)
	assert.Equal(t, "hello bob", msg.Content)
	assert.NotZero(t, msg.ID)

	// Alice receives the ack with her token.
	ack := readEvent(t, alice, chat.EventSendAck)
	var ackPayload chat.SendAckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &ackPayload))
	assert.Equal(t, "tok-1", ackPayload.Token)
	assert.Equal(t, msg.ID, ackPayload.MessageID)
}

func TestServer_DuplicateTokenRejected(t *testing.T) {
	fx := setup(t)
	alice := fx.connect(t, "alice")
	fx.connect(t, "bob")

	payload := chat.SendMessagePayload{
		Token:          "tok-dup",
		ConversationID: "conv-1",
		RecipientID:    "bob",
		Content:        "first",
	}
	send(t, alice, chat.EventSendMessage, payload)
	readEvent(t, alice, chat.EventSendAck)

	send(t, alice, chat.EventSendMessage, payload)
	rej := readEvent(t, alice, chat.EventRejection)
	var rejection chat.RejectionPayload
	require.NoError(t, json.Unmarshal(rej.Payload, &rejection))
	assert.Equal(t, chat.KindOverlap, rejection.Kind)
	assert.Equal(t, chat.EventSendMessage, rejection.Ref)
}

func TestServer_RecoverReplaysMissedMessages(t *testing.T) {
	fx := setup(t)
	alice := fx.connect(t, "alice")
	fx.connect(t, "bob")

	for _, tok := range []string{"t1", "t2", "t3"} {
		send(t, alice, chat.EventSendMessage, chat.SendMessagePayload{
			Token:          tok,
			ConversationID: "conv-1",
			RecipientID:    "bob",
			Content:        "msg " + tok,
		})
		readEvent(t, alice, chat.EventSendAck)
	}

	// Bob reconnects after missing everything past offset 1.
	bob2 := fx.connect(t, "bob")
	send(t, bob2, chat.EventRecoverConnection, chat.RecoverConnectionPayload{
		ConversationID: "conv-1",
		Offset:         1,
	})

	evt := readEvent(t, bob2, chat.EventRecovered)
	var batch chat.RecoveredPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &batch))
	require.Len(t, batch.Messages, 2)
	assert.Equal(t, chat.MessageOffset(2), batch.Messages[0].ID)
	assert.Equal(t, chat.MessageOffset(3), batch.Messages[1].ID)
}

func TestServer_TypingExpiryReachesRecipient(t *testing.T) {
	fx := setup(t)
	alice := fx.connect(t, "alice")
	bob := fx.connect(t, "bob")

	send(t, alice, chat.EventTyping, chat.TypingPayload{
		ConversationID: "conv-1",
		RecipientID:    "bob",
		Typing:         true,
	})

	// Bob first sees typing started, then the coordinator's expiry.
	started := readEvent(t, bob, chat.EventTyping)
	var p chat.TypingPayload
	require.NoError(t, json.Unmarshal(started.Payload, &p))
	assert.True(t, p.Typing)
	assert.Equal(t, chat.UserID("alice"), p.UserID)

	stopped := readEvent(t, bob, chat.EventTyping)
	require.NoError(t, json.Unmarshal(stopped.Payload, &p))
	assert.False(t, p.Typing)
}

func TestServer_CallFlow_RequestAcceptHangup(t *testing.T) {
	fx := setup(t)
	alice := fx.connect(t, "alice")
	bob := fx.connect(t, "bob")

	send(t, alice, chat.EventCallRequest, chat.CallRequestPayload{
		CalleeID:       "bob",
		ConversationID: "conv-1",
	})

	status := readEvent(t, alice, chat.EventCallStatus)
	var statusPayload chat.CallStatusEvent
	require.NoError(t, json.Unmarshal(status.Payload, &statusPayload))
	require.Equal(t, chat.CallStatusRequesting, statusPayload.Status)
	sessionID := statusPayload.SessionID
	require.NotEmpty(t, sessionID)

	incoming := readEvent(t, bob, chat.EventCallRequest)
	var reqPayload chat.CallRequestEvent
	require.NoError(t, json.Unmarshal(incoming.Payload, &reqPayload))
	assert.Equal(t, sessionID, reqPayload.SessionID)
	assert.Equal(t, chat.UserID("alice"), reqPayload.CallerID)

	send(t, bob, chat.EventCallAccept, chat.CallSessionPayload{SessionID: sessionID})

	// Both parties hear about the accept: bob as the op confirmation,
	// alice as the engine notification.
	bobStatus := readEvent(t, bob, chat.EventCallStatus)
	require.NoError(t, json.Unmarshal(bobStatus.Payload, &statusPayload))
	assert.Equal(t, chat.CallStatusAccepted, statusPayload.Status)

	accepted := readEvent(t, alice, chat.EventCallStatus)
	require.NoError(t, json.Unmarshal(accepted.Payload, &statusPayload))
	assert.Equal(t, chat.CallStatusAccepted, statusPayload.Status)

	send(t, alice, chat.EventCallHangup, chat.CallSessionPayload{SessionID: sessionID})

	ended := readEvent(t, bob, chat.EventCallStatus)
	require.NoError(t, json.Unmarshal(ended.Payload, &statusPayload))
	assert.Equal(t, chat.CallStatusEnded, statusPayload.Status)
}

func TestServer_MalformedEventGetsValidationRejection(t *testing.T) {
	fx := setup(t)
	alice := fx.connect(t, "alice")

	require.NoError(t, alice.WriteJSON(chat.Event{Type: "no_such_event"}))

	rej := readEvent(t, alice, chat.EventRejection)
	var rejection chat.RejectionPayload
	require.NoError(t, json.Unmarshal(rej.Payload, &rejection))
	assert.Equal(t, chat.KindValidation, rejection.Kind)
}

func TestServer_DisconnectRemovesFromRegistry(t *testing.T) {
	fx := setup(t)
	alice := fx.connect(t, "alice")

	require.True(t, fx.registry.IsOnline("alice"))
	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		return !fx.registry.IsOnline("alice")
	}, 2*time.Second, 10*time.Millisecond, "disconnect was not processed")
}
