package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
)

var validate = validator.New()

type CreateSlotRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
	// 0 means a single seat.
	Capacity int `json:"capacity" validate:"min=0,max=1000"`
}

type UpdateCapacityRequest struct {
	Capacity int `json:"capacity" validate:"required,min=1,max=1000"`
}

type CreateAppointmentRequest struct {
	SlotID string `json:"slot_id" validate:"required,uuid"`
	// Hold creates a PENDING appointment that must be confirmed.
	Hold bool `json:"hold"`
}

type ListSlotsQuery struct {
	Page       int    `validate:"min=0"`
	PerPage    int    `validate:"min=0,max=100"`
	ProviderID string `validate:"omitempty,uuid"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"provider_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	Available   int       `json:"available"`
	IsBooked    bool      `json:"is_booked"`
	IsCancelled bool      `json:"is_cancelled"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	SlotID      uuid.UUID  `json:"slot_id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	Status      string     `json:"status"`
	BookedAt    time.Time  `json:"booked_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type ProviderAppointmentResponse struct {
	AppointmentResponse
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type PaginatedResponse[T any] struct {
	Data       []T            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

type PaginationMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

type ErrorResponse struct {
	Error     string            `json:"error"`
	Details   string            `json:"details,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

func toSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		ProviderID:  s.ProviderID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Capacity:    s.Capacity,
		BookedCount: s.BookedCount,
		Available:   max(s.Capacity-s.BookedCount, 0),
		IsBooked:    s.Booked,
		IsCancelled: s.Cancelled,
	}
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		SlotID:      a.SlotID,
		CustomerID:  a.CustomerID,
		Status:      string(a.Status),
		BookedAt:    a.BookedAt,
		CancelledAt: a.CancelledAt,
	}
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

// validateStruct returns a field -> message map, or nil when v is valid.
func validateStruct(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	fields := make(map[string]string)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields[fe.Field()] = validationMessage(fe)
		}
	}
	return fields
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Minimum is %s", fe.Param())
	case "max":
		return fmt.Sprintf("Maximum is %s", fe.Param())
	case "uuid":
		return "Must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("Invalid %s field", fe.Field())
	}
}
