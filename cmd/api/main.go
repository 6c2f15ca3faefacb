package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iepose/aigcd/internal/gateway"
	"github.com/iepose/aigcd/internal/http/handlers"
	"github.com/iepose/aigcd/internal/http/httpapi"
	"github.com/iepose/aigcd/internal/infra"
	"github.com/iepose/aigcd/internal/notify"
	"github.com/iepose/aigcd/internal/queue"
	"github.com/iepose/aigcd/internal/storage/postgres"
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

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis connection failed")
	}
	defer rdb.Close()

	store := postgres.NewStore(pool)

	stream := queue.NewStream(rdb, cfg.StreamName, cfg.StreamGroup, cfg.QueueBlock)
	if err := stream.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: create consumer group failed")
	}

	notifier := notify.New(store, rdb, cfg.NotifyChannel, logger)
	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("api: notifier stopped")
		}
	}()

	gw := gateway.New(store, store, store, stream, notifier,
		gateway.NewRegistry(cfg.InferBaseURL), logger)

	app := &handlers.App{
		Gateway:            gw,
		Ledger:             store,
		Logger:             logger,
		LongPollTimeout:    cfg.LongPollTimeout,
		LongPollMaxTimeout: cfg.LongPollMaxTimeout,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.AllowedOrigins,
	}, logger)

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
