package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
)

// Service is the appointment.NotificationSink used in production. The inbox
// write is the delivery guarantee; the realtime publish is best effort.
type Service struct {
	inbox     Inbox
	publisher Publisher
	clock     appointment.Clock
	log       *zap.Logger
}

// NewService accepts a nil publisher, which disables realtime push.
func NewService(inbox Inbox, publisher Publisher, clock appointment.Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = appointment.SystemClock
	}
	return &Service{
		inbox:     inbox,
		publisher: publisher,
		clock:     clock,
		log:       log.With(zap.String("service", "notification")),
	}
}

func (s *Service) Notify(ctx context.Context, recipientID uuid.UUID, message string) error {
	n := Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Message:     message,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.inbox.Insert(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, eventFor(n)); err != nil {
		s.log.Warn("realtime push failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("recipient_id", recipientID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Service) ListUnread(ctx context.Context, recipientID uuid.UUID) ([]Notification, error) {
	items, err := s.inbox.ListUnread(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list unread notifications: %w", err)
	}
	return items, nil
}

func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	return s.inbox.MarkRead(ctx, recipientID, notificationID)
}
