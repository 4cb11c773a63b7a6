package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/api"
	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/db"
	"github.com/hackgods/appointment-lifecycle/internal/logging"
	"github.com/hackgods/appointment-lifecycle/internal/notification"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
	"github.com/hackgods/appointment-lifecycle/internal/scheduler"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "api-server",
		Short:        "Appointment lifecycle API and live notification server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				return m.Up(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				return m.Down(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				v, err := m.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PoolOptions())
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()

	m, err := db.NewMigrator(pgPool, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(ctx, m)
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("api-server starting up",
		zap.String("version", version),
		zap.String("http_port", cfg.HTTPPort),
		zap.Bool("run_scheduler", cfg.RunScheduler),
		zap.Bool("notify_via_redis", cfg.NotifyViaRedis),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PoolOptions())
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if cfg.MigrationsOnStart {
		if err := migrate(rootCtx, pgPool, logger); err != nil {
			return err
		}
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, logger)

	hub := notification.NewHub(logger, cfg.NotificationBuffer)
	defer hub.Close()

	notifier, relay := notificationPath(cfg, hub, rdb, logger)
	go func() {
		if err := relay.Run(rootCtx); err != nil {
			logger.Error("notification relay stopped", zap.Error(err))
		}
	}()

	if cfg.RunScheduler {
		runner := scheduler.NewRunner(cfg.SchedulerInterval, cfg.JobTimeout, logger,
			scheduler.DefaultJobs(repo, notifier, cfg.SchedulerInterval, cfg.ExpiryGracePeriod, logger)...,
		).WithLocker(redisclient.NewRedisLocker(rdb, cfg.LockTTL))
		runner.Start(rootCtx)
		defer runner.Stop()
	}

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Hub:          hub,
		Checks:       healthChecks(pgPool, rdb),
		SSEHeartbeat: cfg.SSEHeartbeat,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Live streams never finish on their own; closing the hub ends them.
	srv.RegisterOnShutdown(hub.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	logger.Info("api-server stopped")
	return nil
}

// notificationPath picks where this process's jobs send events and builds the
// relay that feeds Redis-published events into the local hub. The relay always
// runs: a scheduler-worker or another replica may win a job lock and publish
// even when this process notifies its own hub directly.
func notificationPath(cfg config.Config, hub *notification.Hub, rdb *redis.Client, logger *zap.Logger) (notification.Notifier, *redisclient.Relay) {
	relay := redisclient.NewRelay(rdb, hub, logger)
	if cfg.NotifyViaRedis {
		return redisclient.NewPublisher(rdb, logger), relay
	}
	return hub, relay
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	m, err := db.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	return m.Up(ctx)
}

func healthChecks(pool *pgxpool.Pool, rdb *redis.Client) []api.Check {
	return []api.Check{
		{Name: "postgres", Critical: true, Ping: pool.Ping},
		{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
}
