package conversation

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"go.uber.org/zap"
)

// NewFromConfig builds a Manager on the configured backend.
func NewFromConfig(ctx context.Context, cfg config.ConversationConfig, logger *zap.Logger) (*Manager, error) {
	var backend Backend
	switch cfg.Backend {
	case "", "memory":
		backend = NewMemoryBackend()
	case "redis":
		rb, err := DialRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = rb
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", cfg.Backend)
	}
	return NewManager(backend, cfg.MaxHistoryMessages, logger), nil
}
