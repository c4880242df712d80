// Package config provides configuration types and loading for astra.
package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Provider, Pipeline, RateLimit, Quota,
// Memory, Audit, Gateway, Log.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Provider  ProviderConfig  `json:"provider"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Quota     QuotaConfig     `json:"quota"`
	Memory    MemoryConfig    `json:"memory"`
	Audit     AuditConfig     `json:"audit"`
	Gateway   GatewayConfig   `json:"gateway"`
	Log       LogConfig       `json:"log"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Database string `json:"database" envconfig:"DATABASE"`
	// Capabilities overrides the embedded catalogue when set.
	Capabilities string `json:"capabilities" envconfig:"CAPABILITIES"`
}

// ---------------------------------------------------------------------------
// Model – generation behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups generation model settings.
type ModelConfig struct {
	Name           string  `json:"name" envconfig:"NAME"`
	EmbeddingModel string  `json:"embeddingModel" envconfig:"EMBEDDING_MODEL"`
	MaxLength      int     `json:"maxLength" envconfig:"MAX_LENGTH"`
	Temperature    float64 `json:"temperature" envconfig:"TEMPERATURE"`
	// MaxConcurrent bounds in-flight generation calls.
	MaxConcurrent int `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
}

// ---------------------------------------------------------------------------
// Provider – OpenAI-compatible endpoint
// ---------------------------------------------------------------------------

// ProviderConfig configures the OpenAI-compatible API.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	// Translation selects the translation backend: "none", "script" or "llm".
	Translation string `json:"translation" envconfig:"TRANSLATION"`
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// PipelineConfig tunes the mandatory pipeline.
type PipelineConfig struct {
	GenerationTimeout time.Duration `json:"generationTimeout" envconfig:"GENERATION_TIMEOUT"`
	RAGTopK           int           `json:"ragTopK" envconfig:"RAG_TOP_K"`
	RAGThreshold      float64       `json:"ragThreshold" envconfig:"RAG_THRESHOLD"`
	// DeterministicRefusals always picks the first refusal message of a
	// capability instead of a random one.
	DeterministicRefusals bool `json:"deterministicRefusals" envconfig:"DETERMINISTIC_REFUSALS"`
	// PlainTone disables the empathetic prefix added to replies.
	PlainTone bool `json:"plainTone" envconfig:"PLAIN_TONE"`
}

// ---------------------------------------------------------------------------
// Limits
// ---------------------------------------------------------------------------

// RateLimitConfig overrides the catalogue's global windows. Zero keeps the
// catalogue value.
type RateLimitConfig struct {
	Enabled        bool `json:"enabled" envconfig:"ENABLED"`
	TextPerMinute  int  `json:"textPerMinute" envconfig:"TEXT_PER_MINUTE"`
	VoicePerMinute int  `json:"voicePerMinute" envconfig:"VOICE_PER_MINUTE"`
}

// QuotaConfig configures the daily GPU quota.
type QuotaConfig struct {
	Enabled    bool `json:"enabled" envconfig:"ENABLED"`
	DailyLimit int  `json:"dailyLimit" envconfig:"DAILY_LIMIT"`
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// MemoryConfig configures RAG memory.
type MemoryConfig struct {
	Enabled bool `json:"enabled" envconfig:"ENABLED"`
	// Embedder is "hash" or "provider".
	Embedder  string `json:"embedder" envconfig:"EMBEDDER"`
	Dimension int    `json:"dimension" envconfig:"DIMENSION"`
	TTLDays   int    `json:"ttlDays" envconfig:"TTL_DAYS"`
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditConfig configures secondary audit sinks. The SQLite store is always
// the primary sink.
type AuditConfig struct {
	ChainFile    string `json:"chainFile,omitempty" envconfig:"CHAIN_FILE"`
	KafkaBrokers string `json:"kafkaBrokers,omitempty" envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
}

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Host      string `json:"host" envconfig:"HOST"`
	Port      int    `json:"port" envconfig:"PORT"`
	AuthToken string `json:"authToken,omitempty" envconfig:"AUTH_TOKEN"`
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

// LogConfig configures the default slog handler.
type LogConfig struct {
	Level string `json:"level" envconfig:"LEVEL"`
}

// SlogLevel maps Level to a slog level. Unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Database: "~/.astra/astra.db",
		},
		Model: ModelConfig{
			Name:           "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			MaxLength:      512,
			Temperature:    0.7,
			MaxConcurrent:  4,
		},
		Provider: ProviderConfig{
			Translation: "script",
		},
		Pipeline: PipelineConfig{
			GenerationTimeout: 30 * time.Second,
			RAGTopK:           5,
			RAGThreshold:      0.7,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
		},
		Quota: QuotaConfig{
			Enabled:    true,
			DailyLimit: 100,
		},
		Memory: MemoryConfig{
			Enabled:   true,
			Embedder:  "hash",
			Dimension: 384,
			TTLDays:   90,
		},
		Audit: AuditConfig{
			KafkaTopic: "astra.audit",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
