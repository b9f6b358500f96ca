package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-scheduling/internal/appointment"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
	"github.com/carebridge/telehealth-scheduling/internal/config"
	"github.com/carebridge/telehealth-scheduling/internal/db"
	"github.com/carebridge/telehealth-scheduling/internal/logging"
	"github.com/carebridge/telehealth-scheduling/internal/notify"
	redisclient "github.com/carebridge/telehealth-scheduling/internal/redis"
)

// The sweeper rejects reschedule requests whose requested slot start has
// already passed, releasing the tentatively held slot back to the pool.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("reschedule-sweeper", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("reschedule-sweeper", cfg.Env)
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("reschedule-sweeper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	availRepo := availability.NewPgRepository(pgPool)
	apptRepo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewSlotLocker(rdb, cfg.LockTTL)
	runner := db.PoolRunner{Pool: pgPool}
	dispatcher := notify.NewRedisDispatcher(rdb, cfg.NotifyChannel, logger)

	availSvc := availability.NewService(availRepo, runner, logger)
	svc := appointment.NewService(apptRepo, availSvc, locker, runner, dispatcher, logger)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	swept, err := svc.SweepStaleReschedules(runCtx, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("sweep run error")
		return
	}
	logger.Info().Int("swept", swept).Dur("elapsed", time.Since(start)).Msg("sweep run complete")
}
