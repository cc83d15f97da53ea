package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
)

// Inbox is the persisted per-user notification list.
type Inbox interface {
	Insert(ctx context.Context, n Notification) error
	// ListUnread is ordered newest first.
	ListUnread(ctx context.Context, recipientID uuid.UUID) ([]Notification, error)
	// MarkRead fails with ErrNotificationNotFound or appointment.ErrForbidden
	// when the notification belongs to someone else.
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
}

type PgInbox struct {
	pool *pgxpool.Pool
}

func NewPgInbox(pool *pgxpool.Pool) *PgInbox {
	return &PgInbox{pool: pool}
}

func (r *PgInbox) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.RecipientID, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PgInbox) ListUnread(ctx context.Context, recipientID uuid.UUID) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, recipient_id, message, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1
		  AND NOT is_read
		ORDER BY created_at DESC
	`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgInbox) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	var owner uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT recipient_id FROM notifications WHERE id = $1`, notificationID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotificationNotFound
		}
		return err
	}
	if owner != recipientID {
		return appointment.ErrForbidden
	}

	_, err = r.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, notificationID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// MemInbox backs the memory store driver.
type MemInbox struct {
	mu    sync.Mutex
	items map[uuid.UUID]Notification
}

func NewMemInbox() *MemInbox {
	return &MemInbox{items: make(map[uuid.UUID]Notification)}
}

func (m *MemInbox) Insert(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[n.ID] = n
	return nil
}

func (m *MemInbox) ListUnread(_ context.Context, recipientID uuid.UUID) ([]Notification, error) {
	m.mu.Lock()
	result := []Notification{}
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.Read {
			result = append(result, n)
		}
	}
	m.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemInbox) MarkRead(_ context.Context, recipientID, notificationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.items[notificationID]
	if !ok {
		return ErrNotificationNotFound
	}
	if n.RecipientID != recipientID {
		return appointment.ErrForbidden
	}
	n.Read = true
	m.items[notificationID] = n
	return nil
}
