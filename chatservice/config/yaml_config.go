/*
File: chatservice/config/yaml_config.go
Description: Stage 1 of configuration loading. Raw YAML structs and the
mapping into the canonical AppConfig.
*/
package config

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlFirestoreConfig struct {
	ProjectID string `yaml:"project_id"`
}

// YamlMessageStoreConfig selects the durable store backend.
type YamlMessageStoreConfig struct {
	Type      string              `yaml:"type"` // "redis" or "firestore"
	Redis     YamlRedisConfig     `yaml:"redis"`
	Firestore YamlFirestoreConfig `yaml:"firestore"`
}

// YamlConfig defines the structure for unmarshaling the config.yaml file.
type YamlConfig struct {
	ProjectID              string                 `yaml:"project_id"`
	RunMode                string                 `yaml:"run_mode"`
	APIPort                string                 `yaml:"api_port"`
	WebSocketPort          string                 `yaml:"websocket_port"`
	RelationshipServiceURL string                 `yaml:"relationship_service_url"`
	MessageStore           YamlMessageStoreConfig `yaml:"message_store"`
	TypingExpirySeconds    int                    `yaml:"typing_expiry_seconds"`
	CallTimeoutSeconds     int                    `yaml:"call_timeout_seconds"`
}

// NewConfigFromYaml converts the raw unmarshaled data into a base AppConfig.
// Environment overrides and validation happen in stage 2.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	return &AppConfig{
		ProjectID:              yamlCfg.ProjectID,
		RunMode:                yamlCfg.RunMode,
		APIPort:                yamlCfg.APIPort,
		WebSocketPort:          yamlCfg.WebSocketPort,
		RelationshipServiceURL: yamlCfg.RelationshipServiceURL,
		MessageStore:           yamlCfg.MessageStore,
		TypingExpirySeconds:    yamlCfg.TypingExpirySeconds,
		CallTimeoutSeconds:     yamlCfg.CallTimeoutSeconds,
	}, nil
}
