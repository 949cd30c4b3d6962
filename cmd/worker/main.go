package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CanSsever/qoder-deneme-sub000/internal/bootstrap"
	"github.com/CanSsever/qoder-deneme-sub000/internal/dispatch"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

const (
	sourcePostgres = "postgres"
	sourceKafka    = "kafka"

	webhookDrainTimeout = 30 * time.Second
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

	rt, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer rt.Close()

	if err := rt.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: migration failed")
	}

	pool := dispatch.NewPool(cfg.WorkerConcurrency)
	logger.Info().
		Str("source", cfg.DispatchSource).
		Int("concurrency", cfg.WorkerConcurrency).
		Str("provider", rt.Providers.Default()).
		Msg("worker: started")

	runErr := run(ctx, rt, pool, &logger)

	pool.Wait()
	drainCtx, cancel := context.WithTimeout(context.Background(), webhookDrainTimeout)
	rt.Webhooks.Shutdown(drainCtx)
	cancel()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error().Err(runErr).Msg("worker: stopped with error")
		rt.Close()
		os.Exit(1)
	}
	logger.Info().Msg("worker: stopped")
}

func run(ctx context.Context, rt *bootstrap.Runtime, pool *dispatch.Pool, logger *infra.Logger) error {
	cfg := rt.Config
	switch cfg.DispatchSource {
	case sourceKafka:
		consumer, err := dispatch.NewConsumer(dispatch.ConsumerOptions{
			Brokers:   cfg.KafkaBrokers,
			Topic:     cfg.KafkaTopic,
			GroupID:   cfg.KafkaGroupID,
			Processor: rt.Orchestrator,
			Pool:      pool,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer consumer.Close()
		return consumer.Run(ctx)
	case sourcePostgres, "":
		loop := &dispatch.ClaimLoop{
			Claimer:   rt.Store,
			Processor: rt.Orchestrator,
			Pool:      pool,
			Interval:  cfg.ClaimInterval,
			Logger:    logger,
		}
		return loop.Run(ctx)
	default:
		logger.Error().Str("source", cfg.DispatchSource).Msg("worker: unknown dispatch source")
		return errors.New("unknown DISPATCH_SOURCE " + cfg.DispatchSource)
	}
}
