package appointment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type SweepResult struct {
	Scanned int
	Expired int
	Failed  int
}

// ExpirySweeper cancels PENDING appointments older than the hold TTL and
// gives their seats back.
type ExpirySweeper struct {
	store   Store
	sink    NotificationSink
	clock   Clock
	timeout time.Duration
	audit   auditor
	log     *zap.Logger
}

func NewExpirySweeper(store Store, sink NotificationSink, opts Options, log *zap.Logger) *ExpirySweeper {
	opts = opts.withDefaults()
	log = log.With(zap.String("service", "expiry"))
	return &ExpirySweeper{
		store:   store,
		sink:    sink,
		clock:   opts.Clock,
		timeout: opts.HoldTTL,
		audit:   auditor{events: store.Events(), clock: opts.Clock, log: log},
		log:     log,
	}
}

// SweepExpired processes each stale hold in its own transaction. A failure on
// one appointment is counted and logged, and the sweep moves on. Re-running
// against the same clock finds nothing because expired holds are no longer PENDING.
func (w *ExpirySweeper) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	now := w.clock.Now()
	cutoff := now.Add(-w.timeout)

	candidates, err := w.store.Appointments().FindExpired(ctx, StatusPending, cutoff)
	if err != nil {
		return res, fmt.Errorf("find expired pending appointments: %w", err)
	}
	res.Scanned = len(candidates)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		expired, slot, err := w.expire(ctx, c, now, cutoff)
		if err != nil {
			res.Failed++
			w.log.Error("failed to expire appointment",
				zap.String("appointment_id", c.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if expired == nil {
			continue
		}
		res.Expired++

		w.audit.record(ctx, EventAppointmentExpired, ptr(expired.SlotID), ptr(expired.ID), map[string]any{
			"reason":    "worker",
			"booked_at": expired.BookedAt,
		})
		message := fmt.Sprintf("Your pending appointment for %s has expired and was cancelled.", formatSlotTime(slot.StartTime))
		notify(ctx, w.sink, w.log, *expired, message)
	}

	if res.Scanned > 0 {
		w.log.Info("expiry sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("expired", res.Expired),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// expire returns a nil appointment when the hold was confirmed or cancelled
// between the scan and taking the slot lock.
func (w *ExpirySweeper) expire(ctx context.Context, candidate Appointment, now, cutoff time.Time) (*Appointment, *Slot, error) {
	var (
		expired *Appointment
		slot    *Slot
	)

	err := w.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		s, err := tx.Slots().LockForUpdate(ctx, candidate.SlotID)
		if err != nil {
			return err
		}
		current, err := tx.Appointments().FindByID(ctx, candidate.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusPending || !current.BookedAt.Before(cutoff) {
			return nil
		}

		current.cancel(now)
		if err := tx.Appointments().Save(ctx, current); err != nil {
			return err
		}

		if !s.Cancelled {
			s.release()
			s.UpdatedAt = now
			if err := tx.Slots().Save(ctx, s); err != nil {
				return err
			}
		}

		expired = current
		slot = s
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return expired, slot, nil
}

// RunGuard wraps a single sweep, for example in a distributed lock.
type RunGuard func(ctx context.Context, run func(ctx context.Context) error) error

// RunEvery sweeps once immediately and then on every tick until ctx is done.
// Each run is bounded by runTimeout. A nil guard runs the sweep directly.
func (w *ExpirySweeper) RunEvery(ctx context.Context, interval, runTimeout time.Duration, guard RunGuard) {
	if guard == nil {
		guard = func(ctx context.Context, run func(ctx context.Context) error) error { return run(ctx) }
	}

	runOnce := func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()

		start := w.clock.Now()
		err := guard(runCtx, func(ctx context.Context) error {
			_, err := w.SweepExpired(ctx)
			return err
		})
		if err != nil {
			w.log.Error("expiry run failed", zap.Error(err))
			return
		}
		w.log.Debug("expiry run complete", zap.Duration("took", w.clock.Now().Sub(start)))
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
