/*
File: cmd/local/main.go
Description: Local development entrypoint. Runs the service against
in-memory fakes with query-parameter auth, so no backing services or
tokens are needed.
*/
package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/chatservice"
	"github.com/tinywideclouds/go-chat-service/chatservice/config"
	"github.com/tinywideclouds/go-chat-service/internal/app"
	"github.com/tinywideclouds/go-chat-service/internal/middleware"
	"github.com/tinywideclouds/go-chat-service/internal/test/fakes"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel).With().
		Timestamp().
		Str("service", "go-chat-service-local").
		Logger()

	cfg := &config.AppConfig{
		RunMode:       "local",
		APIPort:       "8080",
		WebSocketPort: "8081",
		MessageStore:  config.YamlMessageStoreConfig{Type: "redis", Redis: config.YamlRedisConfig{Addr: "unused"}},
	}
	if port := os.Getenv("API_PORT"); port != "" {
		cfg.APIPort = port
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		cfg.WebSocketPort = port
	}

	deps := &chat.Dependencies{
		Store:  fakes.NewMessageStore(),
		Policy: fakes.NewAllowAllPolicy(),
	}

	service, err := chatservice.New(cfg, deps, middleware.DevAuth(), prometheus.NewRegistry(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create chat service")
	}

	logger.Info().
		Str("api_port", cfg.APIPort).
		Str("websocket_port", cfg.WebSocketPort).
		Msg("Starting local chat service with in-memory dependencies. Connect with ws://localhost:" + cfg.WebSocketPort + "/connect?as=<user>")

	app.Run(context.Background(), logger, service, service.WebSocketServer())
}
