package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingEngine reserves and releases slot capacity for customers. Every
// mutation takes the slot's row lock first, so requests for one slot are
// serialized while different slots proceed in parallel.
type BookingEngine struct {
	store   Store
	clock   Clock
	holdTTL time.Duration
	audit   auditor
	log     *zap.Logger
}

func NewBookingEngine(store Store, opts Options, log *zap.Logger) *BookingEngine {
	opts = opts.withDefaults()
	log = log.With(zap.String("service", "booking"))
	return &BookingEngine{
		store:   store,
		clock:   opts.Clock,
		holdTTL: opts.HoldTTL,
		audit:   auditor{events: store.Events(), clock: opts.Clock, log: log},
		log:     log,
	}
}

// Book takes one unit of the slot's capacity and returns a BOOKED appointment.
func (e *BookingEngine) Book(ctx context.Context, customerID, slotID uuid.UUID) (*Appointment, error) {
	return e.reserve(ctx, customerID, slotID, StatusBooked)
}

// Hold is Book for the two-step flow: the appointment starts PENDING and
// must be confirmed before the hold TTL runs out.
func (e *BookingEngine) Hold(ctx context.Context, customerID, slotID uuid.UUID) (*Appointment, error) {
	return e.reserve(ctx, customerID, slotID, StatusPending)
}

func (e *BookingEngine) reserve(ctx context.Context, customerID, slotID uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	var (
		appt *Appointment
		slot *Slot
	)

	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		s, err := tx.Slots().LockForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if s.Cancelled {
			return ErrSlotCancelled
		}
		if s.Full() {
			return ErrSlotFull
		}

		active, err := tx.Appointments().FindActiveBySlot(ctx, slotID)
		if err != nil {
			return fmt.Errorf("find active appointments: %w", err)
		}
		for _, a := range active {
			if a.CustomerID == customerID {
				return ErrAlreadyBooked
			}
		}

		now := e.clock.Now()
		s.reserve()
		s.UpdatedAt = now
		if err := tx.Slots().Save(ctx, s); err != nil {
			return err
		}

		a := &Appointment{
			ID:         uuid.New(),
			CustomerID: customerID,
			SlotID:     slotID,
			Status:     status,
			BookedAt:   now,
		}
		if err := tx.Appointments().Insert(ctx, a); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		appt = a
		slot = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := EventAppointmentBooked
	if status == StatusPending {
		event = EventAppointmentHeld
	}
	e.audit.record(ctx, event, ptr(slotID), ptr(appt.ID), map[string]any{
		"customer_id":  customerID.String(),
		"booked_count": slot.BookedCount,
		"capacity":     slot.Capacity,
	})
	e.log.Info("appointment created",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("slot_id", slotID.String()),
		zap.String("status", string(appt.Status)),
		zap.Int("booked_count", slot.BookedCount),
	)

	return appt, nil
}

// Confirm turns a customer's PENDING hold into a BOOKED appointment.
func (e *BookingEngine) Confirm(ctx context.Context, customerID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := e.owned(ctx, customerID, appointmentID)
	if err != nil {
		return nil, err
	}

	var confirmed *Appointment
	err = e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Slots().LockForUpdate(ctx, appt.SlotID); err != nil {
			return err
		}
		current, err := tx.Appointments().FindByID(ctx, appointmentID)
		if err != nil {
			return err
		}

		switch current.Status {
		case StatusCancelled:
			return ErrAlreadyCancelled
		case StatusBooked:
			return ErrInvalidStatusTransition
		}
		if !e.clock.Now().Before(current.BookedAt.Add(e.holdTTL)) {
			return ErrHoldExpired
		}

		current.Status = StatusBooked
		if err := tx.Appointments().Save(ctx, current); err != nil {
			return err
		}
		confirmed = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.audit.record(ctx, EventAppointmentConfirmed, ptr(confirmed.SlotID), ptr(confirmed.ID), map[string]any{})
	return confirmed, nil
}

// Cancel releases a customer's own appointment and returns its seat to the slot.
func (e *BookingEngine) Cancel(ctx context.Context, customerID, appointmentID uuid.UUID) error {
	appt, err := e.owned(ctx, customerID, appointmentID)
	if err != nil {
		return err
	}
	if !appt.Active() {
		return ErrAlreadyCancelled
	}

	var slot *Slot
	err = e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		s, err := tx.Slots().LockForUpdate(ctx, appt.SlotID)
		if err != nil {
			return err
		}
		current, err := tx.Appointments().FindByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !current.Active() {
			return ErrAlreadyCancelled
		}

		now := e.clock.Now()
		if !s.Cancelled {
			s.release()
			s.UpdatedAt = now
			if err := tx.Slots().Save(ctx, s); err != nil {
				return err
			}
		}

		current.cancel(now)
		if err := tx.Appointments().Save(ctx, current); err != nil {
			return err
		}
		slot = s
		return nil
	})
	if err != nil {
		return err
	}

	e.audit.record(ctx, EventAppointmentCancelled, ptr(slot.ID), ptr(appointmentID), map[string]any{
		"reason":       "customer",
		"booked_count": slot.BookedCount,
	})
	e.log.Info("appointment cancelled by customer",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("slot_id", slot.ID.String()),
	)

	return nil
}

// GetMyAppointments lists a customer's appointments, newest first.
func (e *BookingEngine) GetMyAppointments(ctx context.Context, customerID uuid.UUID) ([]Appointment, error) {
	appts, err := e.store.Appointments().FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by customer: %w", err)
	}
	return appts, nil
}

func (e *BookingEngine) owned(ctx context.Context, customerID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := e.store.Appointments().FindByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.CustomerID != customerID {
		return nil, ErrForbidden
	}
	return appt, nil
}
