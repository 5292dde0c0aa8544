package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/engine"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/prompts"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// dependencies holds everything the engine is built from.
type dependencies struct {
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
	embedder  embeddings.Provider
	index     vectorstore.Index
	sessions  *conversation.Manager
	publisher events.Publisher
	engine    *engine.Engine
}

// initDependencies builds the engine and its infrastructure from cfg.
// Console logs go to logOut. On error everything built so far is closed.
func initDependencies(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *dependencies, err error) {
	d := &dependencies{}
	defer func() {
		if err != nil {
			d.Close(context.Background())
		}
	}()

	d.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	lcfg, err := logging.FromAppConfig(cfg.Logging, cfg.Observability.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	d.logger, err = logging.NewLoggerTo(lcfg, d.telemetry.LoggerProvider(), logOut)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := d.logger.Underlying()

	d.embedder, err = embeddings.NewProvider(embeddings.ProviderConfigFrom(cfg.Embeddings), zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	zl.Info("embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", d.embedder.Dimension()))

	d.index, err = vectorstore.New(ctx, cfg, d.embedder, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	zl.Info("vector store initialized",
		zap.String("provider", cfg.VectorStore.Provider),
		zap.String("default_collection", cfg.VectorStore.DefaultCollection))

	completer, err := llm.NewOpenAICompleter(llm.ConfigFrom(cfg.LLM), zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create completer: %w", err)
	}

	d.sessions, err = conversation.NewFromConfig(ctx, cfg.Conversation, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	d.publisher, err = events.NewFromConfig(cfg.Events, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	p := prompts.Default()
	if cfg.Prompts.Path != "" {
		p, err = prompts.LoadFile(cfg.Prompts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
	}

	settings, err := engine.SettingsFrom(cfg.Retrieval)
	if err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	d.engine, err = engine.New(engine.Deps{
		Index:            d.index,
		Completer:        completer,
		Sessions:         d.sessions,
		Prompts:          p,
		Publisher:        d.publisher,
		Logger:           d.logger,
		QueryTimeout:     cfg.Retrieval.QueryTimeout.Duration(),
		DefaultNamespace: cfg.VectorStore.DefaultCollection,
	}, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return d, nil
}

// Close releases all resources in reverse construction order.
func (d *dependencies) Close(ctx context.Context) {
	if d.publisher != nil {
		_ = d.publisher.Close()
	}
	if d.sessions != nil {
		_ = d.sessions.Close()
	}
	if d.index != nil {
		_ = d.index.Close()
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
	if d.logger != nil {
		_ = d.logger.Sync() // Best-effort sync
	}
	if d.telemetry != nil {
		_ = d.telemetry.Shutdown(ctx)
	}
}

// watchConfig reloads retrieval settings when the config file changes.
// It returns nil when path does not exist yet.
func (d *dependencies) watchConfig(ctx context.Context, path string) (*config.Watcher, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	w, err := config.NewWatcher(path, func(cfg *config.Config) {
		settings, err := engine.SettingsFrom(cfg.Retrieval)
		if err != nil {
			d.logger.Warn(ctx, "ignoring retrieval settings", zap.Error(err))
			return
		}
		d.engine.UpdateSettings(settings)
		d.logger.Info(ctx, "retrieval settings reloaded",
			zap.Int("k", settings.K),
			zap.String("fusion", string(settings.Fusion)),
			zap.String("expansion", string(settings.Expansion)))
	}, config.WithErrorHandler(func(err error) {
		d.logger.Warn(ctx, "config reload failed", zap.Error(err))
	}))
	if err != nil {
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}
