package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SlotManager owns slot creation, capacity changes and provider cancellations.
type SlotManager struct {
	store Store
	sink  NotificationSink
	clock Clock
	audit auditor
	log   *zap.Logger
}

func NewSlotManager(store Store, sink NotificationSink, opts Options, log *zap.Logger) *SlotManager {
	opts = opts.withDefaults()
	log = log.With(zap.String("service", "slots"))
	return &SlotManager{
		store: store,
		sink:  sink,
		clock: opts.Clock,
		audit: auditor{events: store.Events(), clock: opts.Clock, log: log},
		log:   log,
	}
}

// CreateSlot publishes [start, end) for a provider. A capacity of 0 means 1.
// A cancelled slot at exactly the same start time is reactivated in place
// so (provider, start) stays unique.
func (m *SlotManager) CreateSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time, capacity int) (*Slot, error) {
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}
	if capacity == 0 {
		capacity = 1
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity must be at least 1", ErrInvalidCapacity)
	}
	start, end = start.UTC(), end.UTC()

	var (
		slot        *Slot
		reactivated bool
	)

	err := m.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		slots := tx.Slots()

		if err := slots.LockProvider(ctx, providerID); err != nil {
			return err
		}

		// Exact start first: a same-start clash is a duplicate, not an overlap.
		existing, err := slots.FindByProviderStart(ctx, providerID, start)
		if err != nil {
			return fmt.Errorf("find slot by start: %w", err)
		}
		if existing != nil && !existing.Cancelled {
			return ErrDuplicateSlot
		}

		overlapping, err := slots.ExistsOverlapping(ctx, providerID, start, end)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if overlapping {
			return ErrOverlap
		}

		now := m.clock.Now()

		if existing != nil {
			locked, err := slots.LockForUpdate(ctx, existing.ID)
			if err != nil {
				return err
			}
			if !locked.Cancelled {
				return ErrDuplicateSlot
			}
			locked.EndTime = end
			locked.Capacity = capacity
			locked.BookedCount = 0
			locked.Booked = false
			locked.Cancelled = false
			locked.UpdatedAt = now
			if err := slots.Save(ctx, locked); err != nil {
				return err
			}
			slot = locked
			reactivated = true
			return nil
		}

		slot = &Slot{
			ID:         uuid.New(),
			ProviderID: providerID,
			StartTime:  start,
			EndTime:    end,
			Capacity:   capacity,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return slots.Insert(ctx, slot)
	})
	if err != nil {
		return nil, err
	}

	event := EventSlotCreated
	if reactivated {
		event = EventSlotReactivated
	}
	m.audit.record(ctx, event, ptr(slot.ID), nil, map[string]any{
		"provider_id": providerID.String(),
		"start_time":  slot.StartTime,
		"end_time":    slot.EndTime,
		"capacity":    slot.Capacity,
	})
	m.log.Info("slot published",
		zap.String("slot_id", slot.ID.String()),
		zap.String("provider_id", providerID.String()),
		zap.Bool("reactivated", reactivated),
	)

	return slot, nil
}

// CancelSlot withdraws a slot and cancels every active appointment on it.
// Each affected customer is notified after the cancellation commits;
// delivery failures are logged and do not fail the call.
func (m *SlotManager) CancelSlot(ctx context.Context, providerID, slotID uuid.UUID) error {
	var (
		slot     *Slot
		affected []Appointment
	)

	err := m.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		s, err := tx.Slots().LockForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if s.ProviderID != providerID {
			return ErrForbidden
		}
		if s.Cancelled {
			return ErrAlreadyCancelled
		}

		active, err := tx.Appointments().FindActiveBySlot(ctx, slotID)
		if err != nil {
			return fmt.Errorf("find active appointments: %w", err)
		}

		now := m.clock.Now()
		for i := range active {
			active[i].cancel(now)
			if err := tx.Appointments().Save(ctx, &active[i]); err != nil {
				return fmt.Errorf("cancel appointment %s: %w", active[i].ID, err)
			}
		}

		s.Cancelled = true
		s.Booked = false
		s.BookedCount = 0
		s.UpdatedAt = now
		if err := tx.Slots().Save(ctx, s); err != nil {
			return err
		}

		slot = s
		affected = active
		return nil
	})
	if err != nil {
		return err
	}

	message := fmt.Sprintf("Your appointment for %s has been cancelled by the provider.", formatSlotTime(slot.StartTime))
	delivered := 0
	for _, appt := range affected {
		m.audit.record(ctx, EventAppointmentCancelled, ptr(slot.ID), ptr(appt.ID), map[string]any{
			"reason":      "slot_cancelled",
			"customer_id": appt.CustomerID.String(),
		})
		if notify(ctx, m.sink, m.log, appt, message) {
			delivered++
		}
	}

	m.audit.record(ctx, EventSlotCancelled, ptr(slot.ID), nil, map[string]any{
		"provider_id":            providerID.String(),
		"cancelled_appointments": len(affected),
	})
	m.log.Info("slot cancelled",
		zap.String("slot_id", slotID.String()),
		zap.Int("cancelled_appointments", len(affected)),
		zap.Int("notifications_delivered", delivered),
	)

	return nil
}

// UpdateCapacity changes how many customers a slot accepts. It cannot drop
// below the number of seats already taken.
func (m *SlotManager) UpdateCapacity(ctx context.Context, providerID, slotID uuid.UUID, capacity int) (*Slot, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be at least 1", ErrInvalidCapacity)
	}

	var slot *Slot
	err := m.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		s, err := tx.Slots().LockForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if s.ProviderID != providerID {
			return ErrForbidden
		}
		if s.Cancelled {
			return ErrAlreadyCancelled
		}
		if capacity < s.BookedCount {
			return fmt.Errorf("%w: cannot go below current booked count (%d)", ErrInvalidCapacity, s.BookedCount)
		}

		s.Capacity = capacity
		s.Booked = s.BookedCount >= capacity
		s.UpdatedAt = m.clock.Now()
		if err := tx.Slots().Save(ctx, s); err != nil {
			return err
		}
		slot = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.audit.record(ctx, EventSlotCapacityUpdated, ptr(slot.ID), nil, map[string]any{
		"capacity":     slot.Capacity,
		"booked_count": slot.BookedCount,
	})

	return slot, nil
}

// ListAvailable pages through open, future slots ordered by start time. The
// counts may be slightly stale; booking re-checks capacity under the lock.
func (m *SlotManager) ListAvailable(ctx context.Context, q PageQuery) (Page[Slot], error) {
	page, err := m.store.Slots().ListAvailable(ctx, m.clock.Now(), q.Normalize())
	if err != nil {
		return Page[Slot]{}, fmt.Errorf("list available slots: %w", err)
	}
	return page, nil
}

func (m *SlotManager) ListProviderSlots(ctx context.Context, providerID uuid.UUID) ([]Slot, error) {
	slots, err := m.store.Slots().ListByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list provider slots: %w", err)
	}
	return slots, nil
}

func (m *SlotManager) ListProviderAppointments(ctx context.Context, providerID uuid.UUID) ([]ProviderAppointment, error) {
	appts, err := m.store.Appointments().FindByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list provider appointments: %w", err)
	}
	return appts, nil
}
