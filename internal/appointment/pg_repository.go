package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"

	slotProviderStartConstraint = "slots_provider_start_key"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore keeps slots and appointments in Postgres. Slot locks are
// SELECT ... FOR UPDATE row locks bounded by lock_timeout.
type PgStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPgStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PgStore {
	return &PgStore{pool: pool, lockTimeout: lockTimeout}
}

func (s *PgStore) Slots() SlotStore               { return &pgSlots{q: s.pool} }
func (s *PgStore) Appointments() AppointmentStore { return &pgAppointments{q: s.pool} }
func (s *PgStore) Events() EventStore             { return &pgEvents{q: s.pool} }

func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Slots() SlotStore               { return &pgSlots{q: t.tx, inTx: true} }
func (t *pgTx) Appointments() AppointmentStore { return &pgAppointments{q: t.tx} }

// mapPgError turns lock, serialization and uniqueness failures into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgLockNotAvailable:
		return ErrLockTimeout
	case pgSerializationFailure, pgDeadlockDetected:
		return ErrConflict
	case pgUniqueViolation:
		if pgErr.ConstraintName == slotProviderStartConstraint {
			return ErrDuplicateSlot
		}
	}
	return err
}

// Helpers

const slotColumns = `id, provider_id, start_time, end_time, capacity, booked_count, is_booked, is_cancelled, version, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.StartTime,
		&s.EndTime,
		&s.Capacity,
		&s.BookedCount,
		&s.Booked,
		&s.Cancelled,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	result := []Slot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const appointmentColumns = `id, customer_id, slot_id, status, booked_at, cancelled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var cancelledAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.CustomerID,
		&a.SlotID,
		&a.Status,
		&a.BookedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.CancelledAt = cancelledAt
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Slots

type pgSlots struct {
	q    querier
	inTx bool
}

func (r *pgSlots) LockForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	if !r.inTx {
		return nil, errors.New("lock for update requires a transaction")
	}
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	s, err := scanSlot(row)
	if err != nil {
		return nil, mapPgError(err)
	}
	return s, nil
}

func (r *pgSlots) LockProvider(ctx context.Context, providerID uuid.UUID) error {
	if !r.inTx {
		return errors.New("provider lock requires a transaction")
	}
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, providerID.String())
	if err != nil {
		return mapPgError(fmt.Errorf("lock provider schedule: %w", err))
	}
	return nil
}

func (r *pgSlots) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *pgSlots) Insert(ctx context.Context, s *Slot) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO slots (id, provider_id, start_time, end_time, capacity, booked_count, is_booked, is_cancelled, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ID, s.ProviderID, s.StartTime, s.EndTime, s.Capacity, s.BookedCount, s.Booked, s.Cancelled, s.Version, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return mapPgError(fmt.Errorf("insert slot: %w", err))
	}
	return nil
}

func (r *pgSlots) Save(ctx context.Context, s *Slot) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET end_time = $2,
		    capacity = $3,
		    booked_count = $4,
		    is_booked = $5,
		    is_cancelled = $6,
		    updated_at = $7,
		    version = version + 1
		WHERE id = $1
		  AND version = $8
	`, s.ID, s.EndTime, s.Capacity, s.BookedCount, s.Booked, s.Cancelled, s.UpdatedAt, s.Version)
	if err != nil {
		return mapPgError(fmt.Errorf("update slot: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticConflict
	}
	s.Version++
	return nil
}

func (r *pgSlots) ExistsOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM slots
			WHERE provider_id = $1
			  AND NOT is_cancelled
			  AND start_time < $3
			  AND end_time > $2
		)
	`, providerID, start, end).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *pgSlots) FindByProviderStart(ctx context.Context, providerID uuid.UUID, start time.Time) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND start_time = $2
	`, providerID, start)
	s, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, nil
	}
	return s, err
}

func (r *pgSlots) ListAvailable(ctx context.Context, after time.Time, q PageQuery) (Page[Slot], error) {
	page := Page[Slot]{Page: q.Page, PerPage: q.PerPage}

	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM slots
		WHERE NOT is_cancelled
		  AND booked_count < capacity
		  AND start_time > $1
		  AND ($2::uuid IS NULL OR provider_id = $2)
	`, after, q.ProviderID).Scan(&page.Total)
	if err != nil {
		return page, fmt.Errorf("count available slots: %w", err)
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE NOT is_cancelled
		  AND booked_count < capacity
		  AND start_time > $1
		  AND ($2::uuid IS NULL OR provider_id = $2)
		ORDER BY start_time ASC, id ASC
		LIMIT $3 OFFSET $4
	`, after, q.ProviderID, q.PerPage, q.Offset())
	if err != nil {
		return page, err
	}

	page.Items, err = collectSlots(rows)
	return page, err
}

func (r *pgSlots) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND NOT is_cancelled
		ORDER BY start_time ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// Appointments

type pgAppointments struct {
	q querier
}

func (r *pgAppointments) Insert(ctx context.Context, a *Appointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments (id, customer_id, slot_id, status, booked_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.CustomerID, a.SlotID, a.Status, a.BookedAt, a.CancelledAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *pgAppointments) Save(ctx context.Context, a *Appointment) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancelled_at = $3
		WHERE id = $1
	`, a.ID, a.Status, a.CancelledAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *pgAppointments) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *pgAppointments) FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE customer_id = $1
		ORDER BY booked_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *pgAppointments) FindActiveBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1
		  AND status IN ('PENDING', 'BOOKED')
		ORDER BY booked_at ASC
	`, slotID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *pgAppointments) FindExpired(ctx context.Context, status AppointmentStatus, olderThan time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1
		  AND booked_at < $2
		ORDER BY booked_at ASC
	`, status, olderThan)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *pgAppointments) FindByProvider(ctx context.Context, providerID uuid.UUID) ([]ProviderAppointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT a.id, a.customer_id, a.slot_id, a.status, a.booked_at, a.cancelled_at, s.start_time, s.end_time
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
		WHERE s.provider_id = $1
		ORDER BY s.start_time ASC, a.booked_at ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []ProviderAppointment{}
	for rows.Next() {
		var pa ProviderAppointment
		if err := rows.Scan(
			&pa.ID,
			&pa.CustomerID,
			&pa.SlotID,
			&pa.Status,
			&pa.BookedAt,
			&pa.CancelledAt,
			&pa.StartTime,
			&pa.EndTime,
		); err != nil {
			return nil, err
		}
		result = append(result, pa)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Events

type pgEvents struct {
	q querier
}

func (r *pgEvents) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, slot_id, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.SlotID, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
