package appointment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
)

func TestSweepExpired_CancelsStaleHoldsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, uuid.New(), 0, 3)

	stale, err := f.svc.Hold(ctx, uuid.New(), s.ID)
	require.NoError(t, err)
	booked, err := f.svc.Book(ctx, uuid.New(), s.ID)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	fresh, err := f.svc.Hold(ctx, uuid.New(), s.ID)
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)

	res, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, appointment.SweepResult{Scanned: 1, Expired: 1}, res)

	assert.Equal(t, appointment.StatusCancelled, f.appointment(t, stale.ID).Status)
	assert.Equal(t, appointment.StatusBooked, f.appointment(t, booked.ID).Status)
	assert.Equal(t, appointment.StatusPending, f.appointment(t, fresh.ID).Status)
	assert.Equal(t, 2, f.reload(t, s.ID).BookedCount)

	sent := f.sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, stale.CustomerID, sent[0].RecipientID)
	assert.Contains(t, sent[0].Message, "has expired")

	res, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, appointment.SweepResult{}, res)
	assert.Equal(t, 2, f.reload(t, s.ID).BookedCount)
	assert.Len(t, f.sink.Sent(), 1)
}

func TestSweepExpired_SkipsConfirmedHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, uuid.New(), 0, 1)
	customer := uuid.New()

	held, err := f.svc.Hold(ctx, customer, s.ID)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, customer, held.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Equal(t, appointment.StatusBooked, f.appointment(t, held.ID).Status)
	assert.Equal(t, 1, f.reload(t, s.ID).BookedCount)
}

func TestSweepExpired_NotificationFailureDoesNotFailSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slot(t, uuid.New(), 0, 2)

	customer := uuid.New()
	f.sink.failFor[customer] = true

	held, err := f.svc.Hold(ctx, customer, s.ID)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	res, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, appointment.StatusCancelled, f.appointment(t, held.ID).Status)
}

func TestSweepExpired_HoldOnCancelledSlotIsNotPicked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	s := f.slot(t, provider, 0, 1)

	held, err := f.svc.Hold(ctx, uuid.New(), s.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.CancelSlot(ctx, provider, s.ID))

	f.clock.Advance(time.Hour)
	res, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Equal(t, appointment.StatusCancelled, f.appointment(t, held.ID).Status)
	assert.Equal(t, 0, f.reload(t, s.ID).BookedCount)
}

func TestSweepExpired_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	s := f.slot(t, uuid.New(), 0, 2)

	_, err := f.svc.Hold(context.Background(), uuid.New(), s.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.svc.SweepExpired(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.reload(t, s.ID).BookedCount)
}

func TestRunEvery_SweepsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	s := f.slot(t, uuid.New(), 0, 1)

	held, err := f.svc.Hold(context.Background(), uuid.New(), s.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan struct{}, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		f.svc.RunEvery(ctx, 5*time.Millisecond, time.Second, func(ctx context.Context, run func(context.Context) error) error {
			err := run(ctx)
			select {
			case runs <- struct{}{}:
			default:
			}
			return err
		})
	}()

	<-runs
	<-runs
	cancel()
	<-done

	assert.Equal(t, appointment.StatusCancelled, f.appointment(t, held.ID).Status)
	assert.Equal(t, 0, f.reload(t, s.ID).BookedCount)
}
