package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
	"github.com/hackgods/appointment-slot-booking/internal/config"
	"github.com/hackgods/appointment-slot-booking/internal/db"
	"github.com/hackgods/appointment-slot-booking/internal/logger"
	"github.com/hackgods/appointment-slot-booking/internal/notification"
	redisclient "github.com/hackgods/appointment-slot-booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must("expiry-worker", cfg.LogPath, cfg.Debug)
	defer func() { _ = log.Sync() }()

	if cfg.StoreDriver != config.StorePostgres {
		log.Fatal("expiry-worker needs STORE_DRIVER=postgres; the memory driver sweeps inside api-server")
	}

	log.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("hold_ttl", cfg.HoldTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, db.Options{DSN: cfg.PostgresDSN, MaxConns: cfg.DBMaxConns, AppName: "expiry-worker"})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	var publisher notification.Publisher
	if cfg.RabbitMQURL != "" {
		pub := notification.NewAMQPPublisher(cfg.RabbitMQURL, cfg.NotificationQueue)
		defer func() { _ = pub.Close() }()
		publisher = pub
	}

	store := appointment.NewPgStore(pgPool, cfg.LockTimeout)
	notifier := notification.NewService(notification.NewPgInbox(pgPool), publisher, nil, log)
	sweeper := appointment.NewExpirySweeper(store, notifier, appointment.Options{HoldTTL: cfg.HoldTTL}, log)
	locker := redisclient.NewRedisLocker(rdb, cfg.SweeperLockTTL)

	sweeper.RunEvery(rootCtx, cfg.WorkerInterval, cfg.SweepTimeout, func(ctx context.Context, run func(context.Context) error) error {
		err := locker.WithLock(ctx, redisclient.SweeperLockKey, run)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			log.Debug("another replica is sweeping, skipping run")
			return nil
		}
		return err
	})

	log.Info("shutdown signal received, expiry worker stopped")
}
