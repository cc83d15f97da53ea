package appointment

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusBooked    AppointmentStatus = "BOOKED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

// Slot is a provider-owned bookable window. Booked mirrors BookedCount >= Capacity
// and is kept in storage so availability listings can filter on it.
type Slot struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Capacity    int
	BookedCount int
	Booked      bool
	Cancelled   bool
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Slot) Full() bool {
	return s.BookedCount >= s.Capacity
}

// Overlaps reports whether [start, end) intersects the slot's range.
func (s *Slot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

func (s *Slot) reserve() {
	s.BookedCount++
	if s.BookedCount >= s.Capacity {
		s.Booked = true
	}
}

func (s *Slot) release() {
	if s.BookedCount > 0 {
		s.BookedCount--
	}
	s.Booked = false
}

type Appointment struct {
	ID          uuid.UUID
	CustomerID  uuid.UUID
	SlotID      uuid.UUID
	Status      AppointmentStatus
	BookedAt    time.Time
	CancelledAt *time.Time
}

func (a *Appointment) Active() bool {
	return a.Status != StatusCancelled
}

func (a *Appointment) cancel(now time.Time) {
	a.Status = StatusCancelled
	a.CancelledAt = &now
}

// ProviderAppointment is an appointment joined with the slot it occupies.
type ProviderAppointment struct {
	Appointment
	StartTime time.Time
	EndTime   time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	SlotID        *uuid.UUID
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// PageQuery is a 1-based page request for availability listings.
type PageQuery struct {
	Page       int
	PerPage    int
	ProviderID *uuid.UUID
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
	// maxPage keeps Offset within int32 for every allowed PerPage.
	maxPage = math.MaxInt32 / maxPerPage
)

func (q PageQuery) Normalize() PageQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > maxPage {
		q.Page = maxPage
	}
	if q.PerPage <= 0 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	return q
}

func (q PageQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}

type Page[T any] struct {
	Items   []T
	Page    int
	PerPage int
	Total   int64
}

func (p Page[T]) TotalPages() int {
	if p.PerPage <= 0 {
		return 0
	}
	return int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
}
