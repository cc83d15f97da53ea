package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotStore persists slots. LockForUpdate and LockProvider are only valid
// inside Store.WithTx and hold their lock until that transaction ends.
type SlotStore interface {
	// LockForUpdate blocks until the slot row is exclusively held by the
	// current transaction. Fails with ErrSlotNotFound or ErrLockTimeout.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	// LockProvider serializes schedule changes for one provider.
	LockProvider(ctx context.Context, providerID uuid.UUID) error

	Get(ctx context.Context, id uuid.UUID) (*Slot, error)
	Insert(ctx context.Context, s *Slot) error
	// Save writes s if the stored version still equals s.Version and bumps it,
	// otherwise fails with ErrOptimisticConflict.
	Save(ctx context.Context, s *Slot) error

	ExistsOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error)
	// FindByProviderStart returns the slot (cancelled or not) at exactly start, or nil.
	FindByProviderStart(ctx context.Context, providerID uuid.UUID, start time.Time) (*Slot, error)

	ListAvailable(ctx context.Context, after time.Time, q PageQuery) (Page[Slot], error)
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]Slot, error)
}

type AppointmentStore interface {
	Insert(ctx context.Context, a *Appointment) error
	Save(ctx context.Context, a *Appointment) error
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindByCustomer is ordered by BookedAt descending.
	FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]Appointment, error)
	// FindActiveBySlot returns PENDING and BOOKED appointments.
	FindActiveBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error)
	FindExpired(ctx context.Context, status AppointmentStatus, olderThan time.Time) ([]Appointment, error)
	// FindByProvider is ordered by slot start time ascending.
	FindByProvider(ctx context.Context, providerID uuid.UUID) ([]ProviderAppointment, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

type Tx interface {
	Slots() SlotStore
	Appointments() AppointmentStore
}

// Store gives unlocked access through its Tx methods and transactional
// access through WithTx. fn's error rolls the transaction back.
type Store interface {
	Tx
	Events() EventStore
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// NotificationSink delivers a message to a user's inbox and, best effort, in real time.
type NotificationSink interface {
	Notify(ctx context.Context, recipientID uuid.UUID, message string) error
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
