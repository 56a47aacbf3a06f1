/*
File: chatservice/config/chat_service_config.go
Description: Stage 2 of configuration loading. The canonical AppConfig,
environment variable overrides, and final validation.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTypingExpiry = 4 * time.Second
	defaultCallTimeout  = 10 * time.Second
)

// AppConfig is the canonical, validated configuration object used throughout
// the application. It is created by NewConfigFromYaml (Stage 1) and
// finalized by UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID              string
	RunMode                string
	APIPort                string
	WebSocketPort          string
	RelationshipServiceURL string
	MessageStore           YamlMessageStoreConfig
	TypingExpirySeconds    int
	CallTimeoutSeconds     int

	// JWTSecret is never read from YAML; secrets come from the environment.
	JWTSecret string
}

// TypingExpiry returns the typing auto-expiry as a duration, falling back to
// the default when the config leaves it unset.
func (c *AppConfig) TypingExpiry() time.Duration {
	if c.TypingExpirySeconds <= 0 {
		return defaultTypingExpiry
	}
	return time.Duration(c.TypingExpirySeconds) * time.Second
}

// CallTimeout returns the unanswered-call timeout as a duration.
func (c *AppConfig) CallTimeout() time.Duration {
	if c.CallTimeoutSeconds <= 0 {
		return defaultCallTimeout
	}
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from
// YAML) and completes it by applying environment variables and final
// validation.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	override := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			logger.Debug().Str("key", key).Msg("Overriding config value from env")
			*dst = v
		}
	}

	override("GCP_PROJECT_ID", &cfg.ProjectID)
	override("API_PORT", &cfg.APIPort)
	override("WEBSOCKET_PORT", &cfg.WebSocketPort)
	override("RELATIONSHIP_SERVICE_URL", &cfg.RelationshipServiceURL)
	override("REDIS_ADDR", &cfg.MessageStore.Redis.Addr)
	override("MESSAGE_STORE_TYPE", &cfg.MessageStore.Type)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	// 2. Final Validation
	if cfg.APIPort == "" {
		return nil, fmt.Errorf("API port is not configured")
	}
	if cfg.WebSocketPort == "" {
		return nil, fmt.Errorf("WebSocket port is not configured")
	}
	switch cfg.MessageStore.Type {
	case "redis":
		if cfg.MessageStore.Redis.Addr == "" {
			return nil, fmt.Errorf("message store type is 'redis' but no redis address is configured")
		}
	case "firestore":
		if cfg.MessageStore.Firestore.ProjectID == "" && cfg.ProjectID == "" {
			return nil, fmt.Errorf("message store type is 'firestore' but no project id is configured")
		}
	default:
		return nil, fmt.Errorf("unknown message store type: %q", cfg.MessageStore.Type)
	}
	if cfg.RunMode != "local" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set outside local run mode")
	}

	return cfg, nil
}

// FirestoreProjectID resolves the project id for the Firestore store,
// preferring the store-specific value.
func (c *AppConfig) FirestoreProjectID() string {
	if c.MessageStore.Firestore.ProjectID != "" {
		return c.MessageStore.Firestore.ProjectID
	}
	return c.ProjectID
}
