package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:         "~/.engram/workspace",
			Model:             "gpt-4o-mini",
			MaxTokens:         8192,
			MaxToolIterations: 6,
			MaxConcurrent:     8,
		},
		Memory: MemoryConfig{
			Backend: "file",
			Postgres: PostgresConfig{
				PoolMinSize: 2,
				PoolMaxSize: 10,
			},
			Embedding: EmbeddingConfig{
				Dimensions: 1536,
			},
			SemanticSearchLimit: 10,
			AutoIngest:          true,
			Worker: WorkerConfig{
				PollIntervalSeconds: 2,
			},
		},
		Channels: ChannelsConfig{
			OpenAI: OpenAIChannelConfig{
				Enabled:        true,
				Host:           "0.0.0.0",
				Port:           18890,
				TimeoutSeconds: 120,
				ModelName:      "engram",
			},
		},
		Bus: BusConfig{
			QueueSize:            16,
			IdleWorkerTTLSeconds: 60,
		},
	}
}

// Load reads config from a JSON file, then overlays env vars. A missing
// file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("ENGRAM_WORKSPACE", &c.Agent.Workspace)
	envStr("ENGRAM_MODEL", &c.Agent.Model)
	envStr("ENGRAM_PROVIDER_KEY", &c.Provider.APIKey)
	envStr("ENGRAM_PROVIDER_BASE_URL", &c.Provider.BaseURL)

	envStr("ENGRAM_PG_DSN", &c.Memory.Postgres.DSN)
	envStr("ENGRAM_EMBEDDING_KEY", &c.Memory.Embedding.APIKey)

	if v := os.Getenv("ENGRAM_GATEWAY_TOKEN"); v != "" {
		c.Channels.OpenAI.APIKeys = FlexibleStringSlice{v}
	}
	envStr("ENGRAM_HOST", &c.Channels.OpenAI.Host)
	if v := os.Getenv("ENGRAM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Channels.OpenAI.Port = port
		}
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
