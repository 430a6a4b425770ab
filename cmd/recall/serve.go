package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/conorfennell/recall/internal/progress"
	"github.com/conorfennell/recall/internal/scheduler"
	"github.com/conorfennell/recall/internal/web"
	"github.com/spf13/pflag"
)

func runServe(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cfg, shutdownTelemetry, err := setup(ctx, fs, args)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	logger := slog.Default()
	store, locker, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer store.Close()
	logger.Info("progress store opened", "driver", cfg.Store.Driver)

	policy := progress.AssessmentPolicy{
		FastLatency: cfg.Assessment.FastLatency,
		SlowLatency: cfg.Assessment.SlowLatency,
	}
	srv := web.NewServer(
		scheduler.New(store, locker, logger),
		progress.NewProcessor(store, locker, policy, logger),
		logger,
		web.WithRequestTimeout(cfg.Server.RequestTimeout),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("could not listen on %s: %w", cfg.Server.Addr, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
