package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-noc/kestrel/internal/api"
	"github.com/kestrel-noc/kestrel/internal/auth"
	"github.com/kestrel-noc/kestrel/internal/bus"
	"github.com/kestrel-noc/kestrel/internal/cache"
	"github.com/kestrel-noc/kestrel/internal/repository"
	"github.com/kestrel-noc/kestrel/internal/storage"
	"github.com/kestrel-noc/kestrel/internal/synthesis"
	"github.com/kestrel-noc/kestrel/internal/worker"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the batch worker.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().Int("port", 8000, "HTTP listen port")
	cmd.Flags().StringSlice("cities", nil, "Cities the batch worker consumes; empty consumes the global scope")
	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = a.v.BindPFlag("worker.cities", cmd.Flags().Lookup("cities"))
	return cmd
}

func serve(parent context.Context, a *app) error {
	cfg := a.cfg

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	catalog, source, err := resolveCatalog(ctx, cfg, repo)
	if err != nil {
		return fmt.Errorf("failed to load rule catalog: %w", err)
	}
	slog.Info("rule catalog loaded", "source", source, "rules_count", catalog.Len())

	service := synthesis.NewService(catalog, synthesis.NewProcessor(), repo, busImpl, cfg.Evaluator.Workers)

	var asyncWorker *worker.Worker
	if cfg.Evaluator.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, service)
		cities := a.v.GetStringSlice("worker.cities")
		if err := asyncWorker.Start(worker.Config{Cities: cities}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		slog.Info("async worker started", "city_count", len(cities))
	}

	authClient := auth.NewClient(cfg.Auth, auth.WithCache(cacheImpl, cfg.Auth.CacheTTL))

	deps := api.Deps{
		Repo:        repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Auth:        authClient,
		Storage:     storage.NewClient(cfg.Storage),
		Synthesis:   service,
		ExtraFields: cfg.Evaluator.ExtraFields,
	}
	if asyncWorker != nil {
		deps.Worker = asyncWorker
	}
	srv := api.NewServer(cfg.Server, deps, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}
