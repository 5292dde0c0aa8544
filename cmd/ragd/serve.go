package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
)

// run loads configuration from configPath and serves the REST API until ctx
// is cancelled.
func run(ctx context.Context, configPath string) error {
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, configPath, os.Stdout)
}

// serve runs the REST API for cfg. A non-empty configPath is watched for
// retrieval setting changes.
func serve(ctx context.Context, cfg *config.Config, configPath string, logOut io.Writer) error {
	deps, err := initDependencies(ctx, cfg, logOut)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(context.Background())

	logger := deps.logger
	logger.Info(ctx, "starting ragd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	if configPath != "" {
		w, err := deps.watchConfig(ctx, configPath)
		if err != nil {
			logger.Warn(ctx, "config watcher disabled", zap.Error(err))
		} else if w != nil {
			defer w.Stop()
		}
	}

	srv, err := ragdhttp.NewServer(deps.engine, logger, &ragdhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
