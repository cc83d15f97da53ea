// Package memstore is an in-process appointment.Store. Slot locks are
// per-slot channels held for the lifetime of a WithTx call, which gives the
// same blocking and timeout behaviour as SELECT ... FOR UPDATE.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
)

const DefaultLockTimeout = 3 * time.Second

var errTxRequired = errors.New("lock requires a transaction")

type Store struct {
	mu     sync.RWMutex
	slots  map[uuid.UUID]appointment.Slot
	appts  map[uuid.UUID]appointment.Appointment
	events []appointment.EventLog

	lockMu        sync.Mutex
	slotLocks     map[uuid.UUID]chan struct{}
	providerLocks map[uuid.UUID]chan struct{}
	lockTimeout   time.Duration
}

func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		slots:         make(map[uuid.UUID]appointment.Slot),
		appts:         make(map[uuid.UUID]appointment.Appointment),
		slotLocks:     make(map[uuid.UUID]chan struct{}),
		providerLocks: make(map[uuid.UUID]chan struct{}),
		lockTimeout:   lockTimeout,
	}
}

func (s *Store) Slots() appointment.SlotStore               { return &slotStore{s: s} }
func (s *Store) Appointments() appointment.AppointmentStore { return &apptStore{s: s} }
func (s *Store) Events() appointment.EventStore             { return eventStore{s: s} }

// EventLogs returns a copy of every recorded audit event, oldest first.
func (s *Store) EventLogs() []appointment.EventLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]appointment.EventLog(nil), s.events...)
}

// WithTx runs fn with lock access. Locks taken through tx are released when
// fn returns. If fn fails, its writes are undone in reverse order.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx appointment.Tx) error) error {
	t := &tx{s: s, held: make(map[chan struct{}]struct{})}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) acquire(ctx context.Context, locks map[uuid.UUID]chan struct{}, id uuid.UUID, t *tx) error {
	s.lockMu.Lock()
	ch, ok := locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		locks[id] = ch
	}
	s.lockMu.Unlock()

	if _, held := t.held[ch]; held {
		return nil
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		t.held[ch] = struct{}{}
		return nil
	case <-timer.C:
		return appointment.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

type tx struct {
	s    *Store
	held map[chan struct{}]struct{}
	undo []func()
}

func (t *tx) Slots() appointment.SlotStore               { return &slotStore{s: t.s, tx: t} }
func (t *tx) Appointments() appointment.AppointmentStore { return &apptStore{s: t.s, tx: t} }

func (t *tx) release() {
	for ch := range t.held {
		<-ch
	}
	t.held = nil
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// remember records how to restore the previous state. Caller holds s.mu.
func (t *tx) remember(fn func()) {
	if t != nil {
		t.undo = append(t.undo, fn)
	}
}

// Slots

type slotStore struct {
	s  *Store
	tx *tx
}

func (r *slotStore) LockForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Slot, error) {
	if r.tx == nil {
		return nil, errTxRequired
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := r.s.acquire(ctx, r.s.slotLocks, id, r.tx); err != nil {
		return nil, err
	}
	// Re-read: the slot may have changed while we waited.
	return r.Get(ctx, id)
}

func (r *slotStore) LockProvider(ctx context.Context, providerID uuid.UUID) error {
	if r.tx == nil {
		return errTxRequired
	}
	return r.s.acquire(ctx, r.s.providerLocks, providerID, r.tx)
}

func (r *slotStore) Get(_ context.Context, id uuid.UUID) (*appointment.Slot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	slot, ok := r.s.slots[id]
	if !ok {
		return nil, appointment.ErrSlotNotFound
	}
	return &slot, nil
}

func (r *slotStore) Insert(_ context.Context, slot *appointment.Slot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.slots {
		if existing.ProviderID == slot.ProviderID && existing.StartTime.Equal(slot.StartTime) {
			return appointment.ErrDuplicateSlot
		}
	}
	r.s.slots[slot.ID] = *slot
	id := slot.ID
	r.tx.remember(func() { delete(r.s.slots, id) })
	return nil
}

func (r *slotStore) Save(_ context.Context, slot *appointment.Slot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, ok := r.s.slots[slot.ID]
	if !ok {
		return appointment.ErrSlotNotFound
	}
	if prev.Version != slot.Version {
		return appointment.ErrOptimisticConflict
	}
	slot.Version++
	r.s.slots[slot.ID] = *slot
	r.tx.remember(func() { r.s.slots[prev.ID] = prev })
	return nil
}

func (r *slotStore) ExistsOverlapping(_ context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, slot := range r.s.slots {
		if slot.ProviderID == providerID && !slot.Cancelled && slot.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (r *slotStore) FindByProviderStart(_ context.Context, providerID uuid.UUID, start time.Time) (*appointment.Slot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, slot := range r.s.slots {
		if slot.ProviderID == providerID && slot.StartTime.Equal(start) {
			return &slot, nil
		}
	}
	return nil, nil
}

func (r *slotStore) ListAvailable(_ context.Context, after time.Time, q appointment.PageQuery) (appointment.Page[appointment.Slot], error) {
	r.s.mu.RLock()
	var open []appointment.Slot
	for _, slot := range r.s.slots {
		if slot.Cancelled || slot.Full() || !slot.StartTime.After(after) {
			continue
		}
		if q.ProviderID != nil && slot.ProviderID != *q.ProviderID {
			continue
		}
		open = append(open, slot)
	}
	r.s.mu.RUnlock()

	sortSlots(open)

	page := appointment.Page[appointment.Slot]{
		Items:   []appointment.Slot{},
		Page:    q.Page,
		PerPage: q.PerPage,
		Total:   int64(len(open)),
	}
	from := q.Offset()
	if from < 0 || from >= len(open) {
		return page, nil
	}
	to := min(from+q.PerPage, len(open))
	page.Items = append(page.Items, open[from:to]...)
	return page, nil
}

func (r *slotStore) ListByProvider(_ context.Context, providerID uuid.UUID) ([]appointment.Slot, error) {
	r.s.mu.RLock()
	result := []appointment.Slot{}
	for _, slot := range r.s.slots {
		if slot.ProviderID == providerID && !slot.Cancelled {
			result = append(result, slot)
		}
	}
	r.s.mu.RUnlock()

	sortSlots(result)
	return result, nil
}

func sortSlots(slots []appointment.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].StartTime.Before(slots[j].StartTime)
		}
		return slots[i].ID.String() < slots[j].ID.String()
	})
}

// Appointments

type apptStore struct {
	s  *Store
	tx *tx
}

func (r *apptStore) Insert(_ context.Context, a *appointment.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.appts[a.ID] = *a
	id := a.ID
	r.tx.remember(func() { delete(r.s.appts, id) })
	return nil
}

func (r *apptStore) Save(_ context.Context, a *appointment.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, ok := r.s.appts[a.ID]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	r.s.appts[a.ID] = *a
	r.tx.remember(func() { r.s.appts[prev.ID] = prev })
	return nil
}

func (r *apptStore) FindByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *apptStore) filter(keep func(appointment.Appointment) bool) []appointment.Appointment {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []appointment.Appointment{}
	for _, a := range r.s.appts {
		if keep(a) {
			result = append(result, a)
		}
	}
	return result
}

func (r *apptStore) FindByCustomer(_ context.Context, customerID uuid.UUID) ([]appointment.Appointment, error) {
	result := r.filter(func(a appointment.Appointment) bool { return a.CustomerID == customerID })
	sort.Slice(result, func(i, j int) bool { return result[i].BookedAt.After(result[j].BookedAt) })
	return result, nil
}

func (r *apptStore) FindActiveBySlot(_ context.Context, slotID uuid.UUID) ([]appointment.Appointment, error) {
	result := r.filter(func(a appointment.Appointment) bool { return a.SlotID == slotID && a.Active() })
	sort.Slice(result, func(i, j int) bool { return result[i].BookedAt.Before(result[j].BookedAt) })
	return result, nil
}

func (r *apptStore) FindExpired(_ context.Context, status appointment.AppointmentStatus, olderThan time.Time) ([]appointment.Appointment, error) {
	result := r.filter(func(a appointment.Appointment) bool {
		return a.Status == status && a.BookedAt.Before(olderThan)
	})
	sort.Slice(result, func(i, j int) bool { return result[i].BookedAt.Before(result[j].BookedAt) })
	return result, nil
}

func (r *apptStore) FindByProvider(_ context.Context, providerID uuid.UUID) ([]appointment.ProviderAppointment, error) {
	r.s.mu.RLock()
	result := []appointment.ProviderAppointment{}
	for _, a := range r.s.appts {
		slot, ok := r.s.slots[a.SlotID]
		if !ok || slot.ProviderID != providerID {
			continue
		}
		result = append(result, appointment.ProviderAppointment{
			Appointment: a,
			StartTime:   slot.StartTime,
			EndTime:     slot.EndTime,
		})
	}
	r.s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].BookedAt.Before(result[j].BookedAt)
	})
	return result, nil
}

// Events

type eventStore struct {
	s *Store
}

func (r eventStore) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ev.ID = int64(len(r.s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	r.s.events = append(r.s.events, ev)
	return nil
}
