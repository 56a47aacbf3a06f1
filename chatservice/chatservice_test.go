/*
File: chatservice/chatservice_test.go
Description: Tests service wiring and the startup/shutdown sequence.
*/
package chatservice_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-service/chatservice"
	"github.com/tinywideclouds/go-chat-service/chatservice/config"
	"github.com/tinywideclouds/go-chat-service/internal/middleware"
	"github.com/tinywideclouds/go-chat-service/internal/test/fakes"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		RunMode:       "local",
		APIPort:       "0",
		WebSocketPort: "0",
	}
}

func testDeps() *chat.Dependencies {
	return &chat.Dependencies{
		Store:  fakes.NewMessageStore(),
		Policy: fakes.NewAllowAllPolicy(),
	}
}

func TestNew_RejectsIncompleteDependencies(t *testing.T) {
	_, err := chatservice.New(testConfig(), nil, middleware.DevAuth(), prometheus.NewRegistry(), zerolog.Nop())
	require.Error(t, err)

	_, err = chatservice.New(testConfig(), &chat.Dependencies{Store: fakes.NewMessageStore()}, middleware.DevAuth(), prometheus.NewRegistry(), zerolog.Nop())
	require.Error(t, err)
}

func TestStartAndShutdown(t *testing.T) {
	service, err := chatservice.New(testConfig(), testDeps(), middleware.DevAuth(), prometheus.NewRegistry(), zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, service.WebSocketServer())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startErr := make(chan error, 1)
	go func() { startErr <- service.Start(ctx) }()

	// Start only returns on failure or shutdown, so give it a moment to
	// bind before stopping it.
	select {
	case err := <-startErr:
		t.Fatalf("service exited during startup: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, service.Shutdown(shutdownCtx))

	select {
	case err := <-startErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after shutdown")
	}
}
