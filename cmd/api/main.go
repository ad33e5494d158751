package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"studio/internal/adapter/repo"
	"studio/internal/domain"
	"studio/internal/generation"
	"studio/internal/http/handlers"
	httpapi "studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/infra/geoip"
	"studio/internal/providers/genjob"
	"studio/internal/quota"
	"studio/internal/sqlinline"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, *infra.WithComponent(logger, "sql"))
	if err := infra.EnsureSchema(ctx, runner, sqlinline.QEnsureSchema); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare schema")
	}

	apiKey, err := credentials.NewStore(runner).ResolveGenerationAPIKey(ctx, cfg.GenerationAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("generation api key not configured, submissions will use the simulated path")
	}
	client, err := genjob.NewClient(genjob.Options{
		APIKey:         apiKey,
		BaseURL:        cfg.GenerationAPIBaseURL,
		RequestTimeout: cfg.GenerationHTTPTimeout,
		Logger:         infra.WithComponent(logger, "genjob"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build generation client")
	}

	analytics := repo.NewAnalyticsRepository(runner)
	recorder := generation.NewRecorder(
		repo.NewHistoryRepository(runner, 0),
		analytics,
		infra.WithComponent(logger, "recorder"),
		0,
	)
	board := generation.NewBoard()
	registry := generation.NewRegistry(controllerFactory(ctx, cfg, client, board, recorder, logger))
	defer registry.Close()

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer resolver.Close()

	app := &handlers.App{
		Config:      cfg,
		Logger:      infra.WithComponent(logger, "http"),
		SQL:         runner,
		Controllers: registry,
		Board:       board,
		Analytics:   analytics,
		JWTSecret:   cfg.JWTSecret,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, resolver.Lookup()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recorder.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Bool("generation_credentials", client.HasCredentials()).Msg("API listening")
		return server.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// controllerFactory builds one controller per user. The ledger starts from
// the configured monthly limit and is replaced by the service's snapshot as
// soon as the first quota sync succeeds.
func controllerFactory(ctx context.Context, cfg *infra.Config, client *genjob.Client, board *generation.Board, recorder *generation.Recorder, logger infra.Logger) generation.ControllerFactory {
	policies := generation.PoliciesFromConfig(cfg)
	controllerLogger := infra.WithComponent(logger, "controller")
	return func(userID string) (*generation.Controller, error) {
		svc := client.ForUser(userID)
		ctrl, err := generation.NewController(generation.Options{
			Service:       svc,
			Quota:         svc,
			Ledger:        quota.NewLedger(domain.QuotaState{MonthlyLimit: cfg.DefaultMonthlyLimit}),
			Policies:      policies,
			FallbackDelay: cfg.FallbackDelay,
			Listener:      generation.Fanout(board.Listener(userID), recorder.Listener(userID)),
			Logger:        controllerLogger,
		})
		if err != nil {
			return nil, err
		}
		go func() {
			syncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if _, err := ctrl.SyncQuota(syncCtx); err != nil {
				controllerLogger.Warn().Err(err).Str("user_id", userID).Msg("initial quota sync failed, using configured limit")
			}
		}()
		return ctrl, nil
	}
}
