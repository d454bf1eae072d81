package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the engram runtime.
type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Memory   MemoryConfig   `json:"memory"`
	Channels ChannelsConfig `json:"channels"`
	Bus      BusConfig      `json:"bus,omitempty"`
	mu       sync.RWMutex
}

// AgentConfig holds reasoning-loop settings.
type AgentConfig struct {
	Workspace         string `json:"workspace"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"max_tokens"`
	MaxToolIterations int    `json:"max_tool_iterations"`
	MaxConcurrent     int    `json:"max_concurrent"` // concurrent sessions in flight
}

// ProviderConfig points at the OpenAI-compatible LLM endpoint.
type ProviderConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// MemoryConfig selects and tunes the memory backend.
type MemoryConfig struct {
	Backend             string          `json:"backend"` // "file" or "postgres"
	Postgres            PostgresConfig  `json:"postgres,omitempty"`
	Embedding           EmbeddingConfig `json:"embedding,omitempty"`
	SemanticSearchLimit int             `json:"semantic_search_limit,omitempty"`
	AutoIngest          bool            `json:"auto_ingest"`
	Worker              WorkerConfig    `json:"worker,omitempty"`
}

// PostgresConfig configures the relational memory store.
type PostgresConfig struct {
	DSN         string `json:"dsn,omitempty"`
	PoolMinSize int    `json:"pool_min_size,omitempty"`
	PoolMaxSize int    `json:"pool_max_size,omitempty"`
}

// EmbeddingConfig configures the text embedding API. An empty model
// disables semantic search and the embedding worker.
type EmbeddingConfig struct {
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
}

// Configured reports whether an embedding backend has been set up.
func (e EmbeddingConfig) Configured() bool {
	return e.Model != ""
}

// WorkerConfig tunes the embedding worker poll loop.
type WorkerConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty"`
}

// PollInterval returns the poll interval as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	if w.PollIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// ChannelsConfig holds per-channel settings.
type ChannelsConfig struct {
	OpenAI OpenAIChannelConfig `json:"openai"`
}

// OpenAIChannelConfig configures the OpenAI-compatible HTTP gateway channel.
type OpenAIChannelConfig struct {
	Enabled            bool                `json:"enabled"`
	Host               string              `json:"host"`
	Port               int                 `json:"port"`
	APIKeys            FlexibleStringSlice `json:"api_keys,omitempty"`       // bearer allow-list; empty = open
	AllowedUsers       FlexibleStringSlice `json:"allowed_users,omitempty"`  // user allow-list; empty = open
	TimeoutSeconds     int                 `json:"timeout_seconds,omitempty"`
	ModelName          string              `json:"model_name,omitempty"` // echoed in responses
	RateLimitPerMinute int                 `json:"rate_limit_per_minute,omitempty"`
}

// Timeout returns the per-request reply deadline as a duration.
func (o OpenAIChannelConfig) Timeout() time.Duration {
	if o.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// BusConfig tunes the message bus queue bounds.
type BusConfig struct {
	QueueSize            int `json:"queue_size,omitempty"`
	IdleWorkerTTLSeconds int `json:"idle_worker_ttl_seconds,omitempty"`
}

// IdleWorkerTTL returns the idle session worker lifetime as a duration.
func (b BusConfig) IdleWorkerTTL() time.Duration {
	if b.IdleWorkerTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(b.IdleWorkerTTLSeconds) * time.Second
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}
