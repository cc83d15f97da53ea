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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-slot-booking/internal/api"
	"github.com/hackgods/appointment-slot-booking/internal/appointment"
	"github.com/hackgods/appointment-slot-booking/internal/appointment/memstore"
	"github.com/hackgods/appointment-slot-booking/internal/config"
	"github.com/hackgods/appointment-slot-booking/internal/db"
	"github.com/hackgods/appointment-slot-booking/internal/logger"
	"github.com/hackgods/appointment-slot-booking/internal/notification"
	redisclient "github.com/hackgods/appointment-slot-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must("api-server", cfg.LogPath, cfg.Debug)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	routerCfg := api.RouterConfig{
		Log:            log,
		Env:            cfg.Env,
		Version:        version,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}

	var (
		store appointment.Store
		inbox notification.Inbox
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn("using the in-memory store, all data is lost on restart")
		store = memstore.New(cfg.LockTimeout)
		inbox = notification.NewMemInbox()
	default:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, db.Options{DSN: cfg.PostgresDSN, MaxConns: cfg.DBMaxConns, AppName: "api-server"})
		if err == nil {
			err = db.EnsureSchema(pgCtx, pool)
		}
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		log.Info("connected to Postgres")

		store = appointment.NewPgStore(pool, cfg.LockTimeout)
		inbox = notification.NewPgInbox(pool)
		routerCfg.Postgres = pool
	}

	// Redis only feeds the readiness probe here; the API keeps serving without it.
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Warn("redis unavailable", zap.Error(err))
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		routerCfg.Redis = rdb
	}

	var publisher notification.Publisher
	if cfg.RabbitMQURL != "" {
		pub := notification.NewAMQPPublisher(cfg.RabbitMQURL, cfg.NotificationQueue)
		defer func() { _ = pub.Close() }()
		publisher = pub
	} else {
		log.Info("RABBITMQ_URL not set, realtime push disabled")
	}

	notifier := notification.NewService(inbox, publisher, nil, log)
	svc := appointment.NewService(store, notifier, appointment.Options{HoldTTL: cfg.HoldTTL}, log)

	routerCfg.Slots = svc
	routerCfg.Bookings = svc
	routerCfg.Notifications = notifier

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// No other process can see the in-memory store, so sweep here.
	if cfg.StoreDriver == config.StoreMemory {
		g.Go(func() error {
			svc.RunEvery(gctx, cfg.WorkerInterval, cfg.SweepTimeout, nil)
			return nil
		})
	}

	return g.Wait()
}
