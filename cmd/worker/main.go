package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/seva-labs/paygate/internal/config"
	"github.com/seva-labs/paygate/internal/dispatcher"
	"github.com/seva-labs/paygate/internal/lock"
	"github.com/seva-labs/paygate/internal/notification"
	"github.com/seva-labs/paygate/internal/obs"
	"github.com/seva-labs/paygate/internal/order"
	"github.com/seva-labs/paygate/internal/processor"
	"github.com/seva-labs/paygate/internal/psp"
	"github.com/seva-labs/paygate/internal/resilience"
	"github.com/seva-labs/paygate/internal/settlement"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "paygate"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	store := notification.NewStore(pool)

	scheduler := &notification.Scheduler{
		Store:          store,
		Logger:         logger,
		ProcessDelay:   cfg.ProcessDelay,
		SkippedGrace:   cfg.SkippedGrace,
		SkippedBackoff: cfg.SkippedBackoff,
	}

	pspClient := psp.NewClient(cfg.PSPBaseURL, cfg.PSPAPIKey, cfg.PSPMerchantAccount, cfg.PSPTimeout,
		resilience.NewBreaker(5, 0.5, time.Minute, logger))
	settle := &settlement.Service{
		Repo:                 settlement.NewRepository(pool),
		PSP:                  pspClient,
		Logger:               logger,
		ManualCaptureMethods: cfg.ManualCaptureSet(),
	}
	disp := &dispatcher.Dispatcher{
		Store:             store,
		Orders:            order.NewRepository(pool),
		Registry:          processor.NewRegistry(),
		Settlement:        settle,
		Donations:         pspClient,
		Logger:            logger,
		BatchSize:         cfg.BatchSize,
		MaxErrors:         cfg.MaxErrors,
		RetryDelay:        cfg.RetryDelay,
		CaptureRetryDelay: cfg.CaptureRetryDelay,
	}

	locker := lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond}

	logger.Info().
		Dur("dispatch_interval", cfg.DispatchInterval).
		Dur("schedule_interval", cfg.ScheduleInterval).
		Msg("worker starting")

	go runLoop(ctx, logger, "scheduler", cfg.ScheduleInterval, func(ctx context.Context) error {
		return locker.TryWithLock(ctx, "paygate:lock:scheduler", cfg.WorkerLockTTL, scheduler.Run)
	})
	runLoop(ctx, logger, "dispatcher", cfg.DispatchInterval, func(ctx context.Context) error {
		return locker.TryWithLock(ctx, "paygate:lock:dispatcher", cfg.WorkerLockTTL, disp.Run)
	})

	logger.Info().Msg("worker shutdown complete")
}

// runLoop ticks fn until the context is cancelled. A pass skipped because
// another replica holds the lock is routine, not an error.
func runLoop(ctx context.Context, logger zerolog.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := fn(ctx)
			switch {
			case err == nil:
			case errors.Is(err, lock.ErrNotAcquired):
				logger.Debug().Str("loop", name).Msg("pass skipped, lock held elsewhere")
			case errors.Is(err, context.Canceled):
				return
			default:
				logger.Error().Err(err).Str("loop", name).Msg("pass failed")
			}
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "paygate-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
