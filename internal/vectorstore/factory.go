package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"go.uber.org/zap"
)

// New creates the Index selected by cfg.VectorStore.Provider:
//   - "qdrant" (default): external Qdrant over gRPC
//   - "chromem": embedded store, no external service
func New(ctx context.Context, cfg *config.Config, embedder Embedder, logger *zap.Logger) (Index, error) {
	vs := cfg.VectorStore

	switch vs.Provider {
	case "qdrant", "":
		distance, err := ParseDistance(vs.Qdrant.Distance)
		if err != nil {
			return nil, err
		}
		store, err := NewQdrantStore(ctx, QdrantConfig{
			Host:         vs.Qdrant.Host,
			Port:         vs.Qdrant.Port,
			UseTLS:       vs.Qdrant.UseTLS,
			APIKey:       vs.Qdrant.APIKey.Value(),
			VectorSize:   uint64(vs.Qdrant.VectorSize),
			Distance:     distance,
			MaxRetries:   vs.Qdrant.MaxRetries,
			RetryBackoff: vs.Qdrant.RetryBackoff.Duration(),
		}, embedder, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "chromem":
		store, err := NewChromemStore(ChromemConfig{
			Path:       vs.Chromem.Path,
			Compress:   vs.Chromem.Compress,
			VectorSize: cfg.Embeddings.Dimension,
		}, embedder, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: qdrant, chromem)", ErrInvalidConfig, vs.Provider)
	}
}
