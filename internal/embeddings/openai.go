package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	// BaseURL, e.g. https://api.openai.com/v1 or a local TEI /v1.
	BaseURL string
	Model   string
	// APIKey is optional for local servers.
	APIKey string
	// Dimension, when non-zero, is checked against every returned vector.
	Dimension int
	// BatchSize caps texts per request. Defaults to 256.
	BatchSize int
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// OpenAIProvider embeds text through an OpenAI-compatible /embeddings API.
type OpenAIProvider struct {
	embedder *embeddings.EmbedderImpl
	config   OpenAIConfig
	metrics  *Metrics
}

// NewOpenAIProvider creates a provider. No request is made until the first
// embed call.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 256
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; local servers ignore it.
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder: embedder,
		config:   cfg,
		metrics:  NewMetrics(logger),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err = p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if err := p.checkDimension(v); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, err)
	}()

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err = p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := p.checkDimension(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (p *OpenAIProvider) checkDimension(v []float32) error {
	if p.config.Dimension > 0 && len(v) != p.config.Dimension {
		return fmt.Errorf("%w: model %s returned %d, configured %d",
			ErrDimensionMismatch, p.config.Model, len(v), p.config.Dimension)
	}
	return nil
}

// Dimension returns the configured dimension, or 0 if unknown.
func (p *OpenAIProvider) Dimension() int {
	return p.config.Dimension
}

// Close is a no-op; the provider holds no connections of its own.
func (p *OpenAIProvider) Close() error {
	return nil
}
