/*
File: cmd/chatservice/main.go
Description: Main entrypoint for the chat service. Handles config loading,
dependency injection, and starting the application.
*/
package main

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-chat-service/chatservice"
	"github.com/tinywideclouds/go-chat-service/chatservice/config"
	"github.com/tinywideclouds/go-chat-service/internal/app"
	"github.com/tinywideclouds/go-chat-service/internal/middleware"
	"github.com/tinywideclouds/go-chat-service/internal/platform/relationship"
	"github.com/tinywideclouds/go-chat-service/internal/platform/store"
	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

//go:embed config.yaml
var configFile []byte

func main() {
	// --- 1. Structured logging ---
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "go-chat-service").
		Logger()

	// --- 2. Configuration: unmarshal, map, override ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Fatal().Err(err).Msg("Failed to unmarshal embedded yaml config")
	}

	baseCfg, err := config.NewConfigFromYaml(&yamlCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build base configuration from YAML")
	}

	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration with environment overrides")
	}

	// --- 3. Dependencies ---
	ctx := context.Background()
	deps, err := newProdDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	// --- 4. Authentication ---
	authMiddleware := middleware.JWTAuth([]byte(cfg.JWTSecret), logger)

	// --- 5. Service wiring ---
	promRegistry := prometheus.NewRegistry()
	service, err := chatservice.New(cfg, deps, authMiddleware, promRegistry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create chat service")
	}

	// --- 6. Run ---
	app.Run(ctx, logger, service, service.WebSocketServer())
}

// newProdDependencies creates real, production-ready dependencies.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*chat.Dependencies, error) {
	messageStore, err := newMessageStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	policy, err := relationship.NewHTTPClient(cfg.RelationshipServiceURL, &http.Client{Timeout: 5 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create relationship client: %w", err)
	}

	return &chat.Dependencies{
		Store:  messageStore,
		Policy: policy,
	}, nil
}

// newMessageStore creates the pluggable message store based on config.
func newMessageStore(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (chat.MessageStore, error) {
	storeType := cfg.MessageStore.Type
	logger.Info().Str("type", storeType).Msg("Initializing message store...")

	switch storeType {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.MessageStore.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.MessageStore.Redis.Addr, err)
		}
		return store.NewRedisStore(rdb, logger)

	case "firestore":
		fsClient, err := firestore.NewClient(ctx, cfg.FirestoreProjectID())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to firestore: %w", err)
		}
		return store.NewFirestoreStore(fsClient, logger)

	default:
		return nil, fmt.Errorf("unknown message store type: %q", storeType)
	}
}
