package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/db"
	"github.com/hackgods/appointment-lifecycle/internal/logging"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
	"github.com/hackgods/appointment-lifecycle/internal/scheduler"
)

// scheduler-worker runs the expiry and reminder jobs outside the API process.
// Events go out over Redis so whichever api-server holds a doctor's stream can
// deliver them.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	logger.Info("scheduler-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.SchedulerInterval),
		zap.Duration("grace", cfg.ExpiryGracePeriod),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PoolOptions())
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	publisher := redisclient.NewPublisher(rdb, logger)

	runner := scheduler.NewRunner(cfg.SchedulerInterval, cfg.JobTimeout, logger,
		scheduler.DefaultJobs(repo, publisher, cfg.SchedulerInterval, cfg.ExpiryGracePeriod, logger)...,
	).WithLocker(redisclient.NewRedisLocker(rdb, cfg.LockTTL))

	runner.Start(rootCtx)

	<-rootCtx.Done()
	logger.Info("shutdown signal received, stopping scheduler worker")
	runner.Stop()
}
