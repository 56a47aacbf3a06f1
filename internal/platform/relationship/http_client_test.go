/*
File: internal/platform/relationship/http_client_test.go
Description: Tests the relationship client against a stub HTTP server.
*/
package relationship_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-service/internal/platform/relationship"
)

func TestHTTPClient_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/relationship", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("user"))
		assert.Equal(t, "bob", r.URL.Query().Get("other"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"friends": true, "canDm": false}`))
	}))
	defer srv.Close()

	client, err := relationship.NewHTTPClient(srv.URL, srv.Client(), zerolog.Nop())
	require.NoError(t, err)

	friends, err := client.IsFriend(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.True(t, friends)

	canDM, err := client.CanSendDirectMessage(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.False(t, canDM)
}

func TestHTTPClient_RemoteFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := relationship.NewHTTPClient(srv.URL, srv.Client(), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.IsFriend(context.Background(), "alice", "bob")
	require.Error(t, err)
}

func TestHTTPClient_RequiresURL(t *testing.T) {
	_, err := relationship.NewHTTPClient("", nil, zerolog.Nop())
	require.Error(t, err)
}
