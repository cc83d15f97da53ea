package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/config"
	"github.com/hackgods/appointment-slot-booking/internal/logger"
	"github.com/hackgods/appointment-slot-booking/internal/notification"
)

// notification-relay drains the realtime queue. Delivery to connected
// clients is out of scope for this binary; each event is logged as delivered.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must("notification-relay", cfg.LogPath, cfg.Debug)
	defer func() { _ = log.Sync() }()

	if cfg.RabbitMQURL == "" {
		log.Fatal("RABBITMQ_URL is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := notification.NewConsumer(cfg.RabbitMQURL, cfg.NotificationQueue, func(_ context.Context, ev notification.Event) error {
		log.Info("realtime notification delivered",
			zap.String("notification_id", ev.NotificationID.String()),
			zap.String("recipient_id", ev.RecipientID.String()),
		)
		return nil
	}, log)

	if err := consumer.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped", zap.Error(err))
		return
	}
	log.Info("relay stopped")
}
