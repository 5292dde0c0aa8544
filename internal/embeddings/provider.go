package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch is returned when the model output does not match
	// the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is "openai" or "fastembed".
	Provider string
	Model    string
	// BaseURL is the OpenAI-compatible endpoint (openai only).
	BaseURL string
	APIKey  string
	// Dimension overrides the model's known dimension.
	Dimension int
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
}

// ProviderConfigFrom maps the application config onto a ProviderConfig.
func ProviderConfigFrom(cfg config.EmbeddingsConfig) ProviderConfig {
	return ProviderConfig{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey.Value(),
		Dimension: cfg.Dimension,
		CacheDir:  cfg.CacheDir,
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = config.DimensionForModel(cfg.Model)
	}

	switch cfg.Provider {
	case "openai", "":
		p, err := NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: dim,
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "fastembed":
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: openai, fastembed)", ErrInvalidConfig, cfg.Provider)
	}
}
