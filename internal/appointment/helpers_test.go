package appointment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
	"github.com/hackgods/appointment-slot-booking/internal/appointment/memstore"
)

var baseTime = time.Date(2030, time.January, 7, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentNotification struct {
	RecipientID uuid.UUID
	Message     string
}

type recordingSink struct {
	mu      sync.Mutex
	sent    []sentNotification
	failFor map[uuid.UUID]bool
}

func (s *recordingSink) Notify(_ context.Context, recipientID uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentNotification{RecipientID: recipientID, Message: message})
	if s.failFor[recipientID] {
		return errors.New("inbox unavailable")
	}
	return nil
}

func (s *recordingSink) Sent() []sentNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentNotification(nil), s.sent...)
}

type fixture struct {
	svc   *appointment.Service
	store *memstore.Store
	sink  *recordingSink
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: memstore.New(5 * time.Second),
		sink:  &recordingSink{failFor: map[uuid.UUID]bool{}},
		clock: &testClock{now: baseTime.Add(-24 * time.Hour)},
	}
	f.svc = appointment.NewService(f.store, f.sink, appointment.Options{
		HoldTTL: 15 * time.Minute,
		Clock:   f.clock,
	}, zap.NewNop())
	return f
}

func (f *fixture) slot(t *testing.T, providerID uuid.UUID, offset time.Duration, capacity int) *appointment.Slot {
	t.Helper()
	start := baseTime.Add(offset)
	s, err := f.svc.CreateSlot(context.Background(), providerID, start, start.Add(30*time.Minute), capacity)
	require.NoError(t, err)
	return s
}

func (f *fixture) reload(t *testing.T, slotID uuid.UUID) *appointment.Slot {
	t.Helper()
	s, err := f.store.Slots().Get(context.Background(), slotID)
	require.NoError(t, err)
	return s
}

func (f *fixture) appointment(t *testing.T, id uuid.UUID) *appointment.Appointment {
	t.Helper()
	a, err := f.store.Appointments().FindByID(context.Background(), id)
	require.NoError(t, err)
	return a
}
