package appointment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventSlotCreated          = "SLOT_CREATED"
	EventSlotReactivated      = "SLOT_REACTIVATED"
	EventSlotCancelled        = "SLOT_CANCELLED"
	EventSlotCapacityUpdated  = "SLOT_CAPACITY_UPDATED"
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentHeld      = "APPOINTMENT_HELD"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
)

const DefaultHoldTTL = 15 * time.Minute

type Options struct {
	// HoldTTL is how long a PENDING appointment may wait for confirmation.
	HoldTTL time.Duration
	Clock   Clock
}

func (o Options) withDefaults() Options {
	if o.HoldTTL <= 0 {
		o.HoldTTL = DefaultHoldTTL
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	return o
}

// Service is the caller-facing surface: slot management, booking and the expiry sweep.
type Service struct {
	*SlotManager
	*BookingEngine
	*ExpirySweeper
}

func NewService(store Store, sink NotificationSink, opts Options, log *zap.Logger) *Service {
	opts = opts.withDefaults()
	return &Service{
		SlotManager:   NewSlotManager(store, sink, opts, log),
		BookingEngine: NewBookingEngine(store, opts, log),
		ExpirySweeper: NewExpirySweeper(store, sink, opts, log),
	}
}

// auditor writes the event log after a transaction commits. Failures are
// logged and swallowed: the mutation they describe already happened.
type auditor struct {
	events EventStore
	clock  Clock
	log    *zap.Logger
}

func (a auditor) record(ctx context.Context, eventType string, slotID, appointmentID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		a.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		SlotID:        slotID,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     a.clock.Now(),
	}

	if err := a.events.InsertEvent(ctx, ev); err != nil {
		a.log.Warn("failed to insert event log", zap.String("event", eventType), zap.Error(err))
	}
}

// notify delivers one cascade message. It never fails the caller.
func notify(ctx context.Context, sink NotificationSink, log *zap.Logger, appt Appointment, message string) bool {
	if err := sink.Notify(ctx, appt.CustomerID, message); err != nil {
		log.Error("notification delivery failed",
			zap.String("appointment_id", appt.ID.String()),
			zap.String("customer_id", appt.CustomerID.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}

func formatSlotTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}
