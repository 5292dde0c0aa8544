// Package config provides configuration loading for ragd.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete ragd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Conversation  ConversationConfig  `koanf:"conversation"`
	Events        EventsConfig        `koanf:"events"`
	Prompts       PromptsConfig       `koanf:"prompts"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds service identity and OpenTelemetry export settings.
type ObservabilityConfig struct {
	ServiceName string          `koanf:"service_name"`
	Telemetry   TelemetryConfig `koanf:"telemetry"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // grpc or http/protobuf
	Insecure        bool     `koanf:"insecure"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// LoggingConfig is the subset of logging options exposed through the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	OTEL   bool   `koanf:"otel"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	// Provider is "qdrant" or "chromem".
	Provider          string        `koanf:"provider"`
	DefaultCollection string        `koanf:"default_collection"`
	Qdrant            QdrantConfig  `koanf:"qdrant"`
	Chromem           ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"` // gRPC port, not the 6333 REST port
	UseTLS       bool     `koanf:"use_tls"`
	APIKey       Secret   `koanf:"api_key"`
	VectorSize   int      `koanf:"vector_size"`
	Distance     string   `koanf:"distance"` // cosine, dot, euclid
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// ChromemConfig holds embedded store settings.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingsConfig configures the embedding model.
type EmbeddingsConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "fastembed".
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
	CacheDir  string `koanf:"cache_dir"`
}

// LLMConfig configures the completion service.
type LLMConfig struct {
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	MaxRetries  int      `koanf:"max_retries"`
}

// RetrievalConfig holds the tunables for expansion, fan-out and fusion.
// These are the only settings reloaded at runtime.
type RetrievalConfig struct {
	K            int      `koanf:"k"`
	RRFK         int      `koanf:"rrf_k"`
	Fusion       string   `koanf:"fusion"`    // rrf or union
	Expansion    string   `koanf:"expansion"` // decompose, paraphrase or none
	Variants     int      `koanf:"variants"`
	Parallel     bool     `koanf:"parallel"`
	QueryTimeout Duration `koanf:"query_timeout"`
}

// ConversationConfig configures session history.
type ConversationConfig struct {
	MaxHistoryMessages int         `koanf:"max_history_messages"`
	Backend            string      `koanf:"backend"` // memory or redis
	TTL                Duration    `koanf:"ttl"`
	Redis              RedisConfig `koanf:"redis"`
}

// RedisConfig holds Redis connection settings for the history backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
}

// EventsConfig configures answer event publishing.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// PromptsConfig points at an optional TOML file overriding built-in prompts.
type PromptsConfig struct {
	Path string `koanf:"path"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := base()
	applyDefaults(cfg)
	return cfg
}

// base returns a Config holding only the defaults that are true booleans.
// A zero value cannot be told apart from an explicit false after
// unmarshaling, so the loader unmarshals on top of base() instead.
func base() *Config {
	cfg := &Config{}
	cfg.Retrieval.Parallel = true
	cfg.Observability.Telemetry.Insecure = true
	return cfg
}

// applyDefaults fills zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "ragd"
	}
	tel := &cfg.Observability.Telemetry
	if tel.Endpoint == "" {
		tel.Endpoint = "localhost:4317"
	}
	if tel.Protocol == "" {
		tel.Protocol = "grpc"
	}
	if tel.SampleRate == 0 {
		tel.SampleRate = 1.0
	}
	if tel.MetricsInterval == 0 {
		tel.MetricsInterval = Duration(15 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	vs := &cfg.VectorStore
	if vs.Provider == "" {
		vs.Provider = "qdrant"
	}
	if vs.DefaultCollection == "" {
		vs.DefaultCollection = "parallel_query"
	}
	if vs.Qdrant.Host == "" {
		vs.Qdrant.Host = "localhost"
	}
	if vs.Qdrant.Port == 0 {
		vs.Qdrant.Port = 6334
	}
	if vs.Qdrant.Distance == "" {
		vs.Qdrant.Distance = "cosine"
	}
	if vs.Qdrant.MaxRetries == 0 {
		vs.Qdrant.MaxRetries = 3
	}
	if vs.Qdrant.RetryBackoff == 0 {
		vs.Qdrant.RetryBackoff = Duration(time.Second)
	}
	if vs.Chromem.Path == "" {
		vs.Chromem.Path = "~/.local/share/ragd/vectorstore"
	}

	emb := &cfg.Embeddings
	if emb.Provider == "" {
		emb.Provider = "openai"
	}
	if emb.Model == "" {
		emb.Model = "text-embedding-3-large"
	}
	if emb.BaseURL == "" {
		emb.BaseURL = "https://api.openai.com/v1"
	}
	if emb.Dimension == 0 {
		emb.Dimension = DimensionForModel(emb.Model)
	}
	if vs.Qdrant.VectorSize == 0 {
		vs.Qdrant.VectorSize = emb.Dimension
	}

	llm := &cfg.LLM
	if llm.Model == "" {
		llm.Model = "gpt-4o"
	}
	if llm.BaseURL == "" {
		llm.BaseURL = "https://api.openai.com/v1"
	}
	if llm.MaxTokens == 0 {
		llm.MaxTokens = 1024
	}
	if llm.Timeout == 0 {
		llm.Timeout = Duration(60 * time.Second)
	}
	if llm.RateLimit == 0 {
		llm.RateLimit = 5
	}
	if llm.Burst == 0 {
		llm.Burst = 5
	}
	if llm.MaxRetries == 0 {
		llm.MaxRetries = 2
	}

	r := &cfg.Retrieval
	if r.K == 0 {
		r.K = 5
	}
	if r.RRFK == 0 {
		r.RRFK = 60
	}
	if r.Fusion == "" {
		r.Fusion = "rrf"
	}
	if r.Expansion == "" {
		r.Expansion = "decompose"
	}
	if r.Variants == 0 {
		r.Variants = 5
	}
	if r.QueryTimeout == 0 {
		r.QueryTimeout = Duration(10 * time.Second)
	}

	c := &cfg.Conversation
	if c.MaxHistoryMessages == 0 {
		c.MaxHistoryMessages = 10
	}
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.TTL == 0 {
		c.TTL = Duration(24 * time.Hour)
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://localhost:4222"
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "ragd.answers"
	}
}

// DimensionForModel returns the embedding dimension of a known model.
// Unknown models return 0 so that the dimension must be set explicitly.
func DimensionForModel(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "BAAI/bge-small-en-v1.5", "BAAI/bge-small-en", "sentence-transformers/all-MiniLM-L6-v2":
		return 384
	case "BAAI/bge-base-en-v1.5", "BAAI/bge-base-en":
		return 768
	case "BAAI/bge-large-en-v1.5":
		return 1024
	default:
		return 0
	}
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range: %d", ErrInvalidConfig, c.Server.Port)
	}

	switch c.VectorStore.Provider {
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("%w: vectorstore.qdrant.host required", ErrInvalidConfig)
		}
		// Index dimension is fixed at creation time; a mismatched embedder
		// silently returns garbage neighbours.
		if c.VectorStore.Qdrant.VectorSize != c.Embeddings.Dimension {
			return fmt.Errorf("%w: vectorstore.qdrant.vector_size %d does not match embeddings.dimension %d",
				ErrInvalidConfig, c.VectorStore.Qdrant.VectorSize, c.Embeddings.Dimension)
		}
		switch c.VectorStore.Qdrant.Distance {
		case "cosine", "dot", "euclid":
		default:
			return fmt.Errorf("%w: unknown vectorstore.qdrant.distance %q", ErrInvalidConfig, c.VectorStore.Qdrant.Distance)
		}
	case "chromem":
		if c.VectorStore.Chromem.Path == "" {
			return fmt.Errorf("%w: vectorstore.chromem.path required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vectorstore.provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}

	switch c.Embeddings.Provider {
	case "openai", "fastembed":
	default:
		return fmt.Errorf("%w: unknown embeddings.provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("%w: embeddings.dimension must be set for model %q", ErrInvalidConfig, c.Embeddings.Model)
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be in [0, 2], got %v", ErrInvalidConfig, c.LLM.Temperature)
	}

	if err := c.Retrieval.Validate(); err != nil {
		return err
	}

	if c.Conversation.MaxHistoryMessages < 0 {
		return fmt.Errorf("%w: conversation.max_history_messages must be >= 0", ErrInvalidConfig)
	}
	switch c.Conversation.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown conversation.backend %q", ErrInvalidConfig, c.Conversation.Backend)
	}

	if c.Events.Enabled && c.Events.Subject == "" {
		return fmt.Errorf("%w: events.subject required when events are enabled", ErrInvalidConfig)
	}

	return nil
}

// Validate checks retrieval tunables.
func (r RetrievalConfig) Validate() error {
	if r.K <= 0 {
		return fmt.Errorf("%w: retrieval.k must be positive, got %d", ErrInvalidConfig, r.K)
	}
	if r.RRFK <= 0 {
		return fmt.Errorf("%w: retrieval.rrf_k must be positive, got %d", ErrInvalidConfig, r.RRFK)
	}
	switch r.Fusion {
	case "rrf", "union":
	default:
		return fmt.Errorf("%w: unknown retrieval.fusion %q", ErrInvalidConfig, r.Fusion)
	}
	switch r.Expansion {
	case "decompose", "paraphrase", "none":
	default:
		return fmt.Errorf("%w: unknown retrieval.expansion %q", ErrInvalidConfig, r.Expansion)
	}
	if r.Variants < 1 || r.Variants > 5 {
		return fmt.Errorf("%w: retrieval.variants must be in [1, 5], got %d", ErrInvalidConfig, r.Variants)
	}
	return nil
}
