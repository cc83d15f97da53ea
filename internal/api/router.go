package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
	"github.com/hackgods/appointment-slot-booking/internal/notification"
)

type SlotService interface {
	CreateSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time, capacity int) (*appointment.Slot, error)
	CancelSlot(ctx context.Context, providerID, slotID uuid.UUID) error
	UpdateCapacity(ctx context.Context, providerID, slotID uuid.UUID, capacity int) (*appointment.Slot, error)
	ListAvailable(ctx context.Context, q appointment.PageQuery) (appointment.Page[appointment.Slot], error)
	ListProviderSlots(ctx context.Context, providerID uuid.UUID) ([]appointment.Slot, error)
	ListProviderAppointments(ctx context.Context, providerID uuid.UUID) ([]appointment.ProviderAppointment, error)
}

type BookingService interface {
	Book(ctx context.Context, customerID, slotID uuid.UUID) (*appointment.Appointment, error)
	Hold(ctx context.Context, customerID, slotID uuid.UUID) (*appointment.Appointment, error)
	Confirm(ctx context.Context, customerID, appointmentID uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, customerID, appointmentID uuid.UUID) error
	GetMyAppointments(ctx context.Context, customerID uuid.UUID) ([]appointment.Appointment, error)
}

type NotificationService interface {
	ListUnread(ctx context.Context, recipientID uuid.UUID) ([]notification.Notification, error)
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
}

type RouterConfig struct {
	Slots         SlotService
	Bookings      BookingService
	Notifications NotificationService

	Postgres PostgresPinger
	Redis    RedisPinger

	Log            *zap.Logger
	Env            string
	Version        string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{
		slots:         cfg.Slots,
		bookings:      cfg.Bookings,
		notifications: cfg.Notifications,
		log:           log.With(zap.String("service", "api")),
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoverMiddleware(log))
	r.Use(LoggingMiddleware(log))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/slots", h.listAvailableSlots)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Post("/slots", h.createSlot)
		r.Patch("/slots/{id}/capacity", h.updateCapacity)
		r.Delete("/slots/{id}", h.cancelSlot)

		r.Get("/providers/me/slots", h.listProviderSlots)
		r.Get("/providers/me/appointments", h.listProviderAppointments)

		r.With(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)).Post("/appointments", h.createAppointment)
		r.Get("/appointments", h.listMyAppointments)
		r.Post("/appointments/{id}/confirm", h.confirmAppointment)
		r.Post("/appointments/{id}/cancel", h.cancelAppointment)

		r.Get("/notifications", h.listNotifications)
		r.Put("/notifications/{id}/read", h.markNotificationRead)
	})

	return r
}
