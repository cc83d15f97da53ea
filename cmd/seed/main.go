package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
	"github.com/hackgods/appointment-slot-booking/internal/config"
	"github.com/hackgods/appointment-slot-booking/internal/db"
	"github.com/hackgods/appointment-slot-booking/internal/logger"
	"github.com/hackgods/appointment-slot-booking/internal/notification"
)

const (
	providerCount = 50
	customerCount = 2000
	seedDays      = 7
	slotsPerDay   = 8
	slotLength    = 30 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Must("seed", cfg.LogPath, cfg.Debug)
	defer func() { _ = log.Sync() }()

	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, db.Options{DSN: cfg.PostgresDSN, MaxConns: cfg.DBMaxConns, AppName: "seed"})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	// 0 picks a random seed.
	gofakeit.Seed(0)

	providers, err := seedUsers(context.Background(), pool, log, "PROVIDER", providerCount)
	if err != nil {
		log.Fatal("seed providers", zap.Error(err))
	}
	if _, err := seedUsers(context.Background(), pool, log, "CUSTOMER", customerCount); err != nil {
		log.Fatal("seed customers", zap.Error(err))
	}

	store := appointment.NewPgStore(pool, cfg.LockTimeout)
	notifier := notification.NewService(notification.NewPgInbox(pool), nil, nil, log)
	slots := appointment.NewSlotManager(store, notifier, appointment.Options{}, zap.NewNop())

	if err := seedSlots(context.Background(), slots, log, providers); err != nil {
		log.Fatal("seed slots", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger, role string, count int) ([]uuid.UUID, error) {
	log.Info("seeding users", zap.String("role", role), zap.Int("count", count))

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			// The uuid suffix keeps emails unique across re-runs.
			email := fmt.Sprintf("%s.%s@%s", gofakeit.Username(), id.String()[:8], gofakeit.DomainName())

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, role, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, id, gofakeit.Name(), email, role)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Info("users seeded", zap.String("role", role), zap.Int("done", end), zap.Int("total", count))
	}

	return ids, nil
}

// seedSlots publishes a working-hours grid for every provider through the
// same path the API uses, so overlap rules apply.
func seedSlots(ctx context.Context, slots *appointment.SlotManager, log *zap.Logger, providers []uuid.UUID) error {
	day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	created, skipped := 0, 0

	for _, providerID := range providers {
		firstHour := gofakeit.Number(8, 11)
		for d := range seedDays {
			base := day.AddDate(0, 0, d).Add(time.Duration(firstHour) * time.Hour)
			for i := range slotsPerDay {
				start := base.Add(time.Duration(i) * time.Hour)
				capacity := gofakeit.Number(1, 4)

				_, err := slots.CreateSlot(ctx, providerID, start, start.Add(slotLength), capacity)
				switch {
				case err == nil:
					created++
				case errors.Is(err, appointment.ErrDuplicateSlot), errors.Is(err, appointment.ErrOverlap):
					skipped++
				default:
					return err
				}
			}
		}
	}

	log.Info("slots seeded", zap.Int("created", created), zap.Int("skipped", skipped))
	return nil
}
