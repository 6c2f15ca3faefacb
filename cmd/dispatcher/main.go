package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iepose/aigcd/internal/dispatch"
	"github.com/iepose/aigcd/internal/infra"
	"github.com/iepose/aigcd/internal/notify"
	"github.com/iepose/aigcd/internal/queue"
	"github.com/iepose/aigcd/internal/storage/postgres"
	"github.com/iepose/aigcd/internal/upstream"
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
		logger.Fatal().Err(err).Msg("dispatcher: db connection failed")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: redis connection failed")
	}
	defer rdb.Close()

	store := postgres.NewStore(pool)

	stream := queue.NewStream(rdb, cfg.StreamName, cfg.StreamGroup, cfg.QueueBlock)
	if err := stream.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: create consumer group failed")
	}

	notifier := notify.New(store, rdb, cfg.NotifyChannel, logger)

	worker := dispatch.NewWorker(
		stream,
		store,
		store,
		notifier,
		upstream.NewClient(nil),
		cfg.DispatchConcurrency,
		cfg.DispatchWatchdog,
		logger,
	)

	sweeper := dispatch.NewSweeper(store, stream, cfg.SweepInterval, cfg.SweepAge, logger)
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("dispatcher: sweeper stopped")
		}
	}()

	refresher := dispatch.NewRefresher(store, logger)
	go func() {
		if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("dispatcher: refresher stopped")
		}
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("dispatcher: stopped with error")
	}
	logger.Info().Msg("dispatcher: stopped")
}
