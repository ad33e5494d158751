package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/adapter/repo"
	"studio/internal/generation"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/providers/genjob"
	"studio/internal/sqlinline"
)

// The worker resolves jobs that timed out on the client side by asking the
// generation service for their final status.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, *infra.WithComponent(logger, "sql"))
	if err := infra.EnsureSchema(ctx, runner, sqlinline.QEnsureSchema); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to prepare schema")
	}

	apiKey, err := credentials.NewStore(runner).ResolveGenerationAPIKey(ctx, cfg.GenerationAPIKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: generation api key is required to reconcile jobs")
	}
	client, err := genjob.NewClient(genjob.Options{
		APIKey:         apiKey,
		BaseURL:        cfg.GenerationAPIBaseURL,
		RequestTimeout: cfg.GenerationHTTPTimeout,
		Logger:         infra.WithComponent(logger, "genjob"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build generation client")
	}

	sweeper := generation.NewSweeper(
		repo.NewHistoryRepository(runner, 0),
		func(userID string) generation.StatusFetcher { return client.ForUser(userID) },
		cfg.ReconcileMaxChecks,
		infra.WithComponent(logger, "sweeper"),
	)

	logger.Info().Dur("interval", cfg.ReconcileInterval).Int("max_checks", cfg.ReconcileMaxChecks).Msg("worker: started")
	if err := sweeper.Run(ctx, cfg.ReconcileInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
