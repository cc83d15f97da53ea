package notification

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
)

var ErrNotificationNotFound = fmt.Errorf("notification %w", appointment.ErrNotFound)

type Notification struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Message     string    `json:"message"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is the realtime message published for every persisted notification.
type Event struct {
	NotificationID uuid.UUID `json:"notification_id"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

func eventFor(n Notification) Event {
	return Event{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		Message:        n.Message,
		CreatedAt:      n.CreatedAt,
	}
}
