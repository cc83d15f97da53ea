package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
)

type handlers struct {
	slots         SlotService
	bookings      BookingService
	notifications NotificationService
	log           *zap.Logger
}

// Slots

func (h *handlers) createSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	slot, err := h.slots.CreateSlot(r.Context(), userIDFrom(r.Context()), req.StartTime, req.EndTime, req.Capacity)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
}

func (h *handlers) listAvailableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ListSlotsQuery{ProviderID: q.Get("provider_id")}

	var err error
	if query.Page, err = queryInt(q.Get("page")); err != nil {
		writeValidationError(w, map[string]string{"Page": "Must be a number"})
		return
	}
	if query.PerPage, err = queryInt(q.Get("per_page")); err != nil {
		writeValidationError(w, map[string]string{"PerPage": "Must be a number"})
		return
	}
	if fields := validateStruct(query); fields != nil {
		writeValidationError(w, fields)
		return
	}

	pq := appointment.PageQuery{Page: query.Page, PerPage: query.PerPage}
	if query.ProviderID != "" {
		providerID := uuid.MustParse(query.ProviderID)
		pq.ProviderID = &providerID
	}

	page, err := h.slots.ListAvailable(r.Context(), pq)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, PaginatedResponse[SlotResponse]{
		Data: mapSlice(page.Items, toSlotResponse),
		Pagination: PaginationMeta{
			Total:      page.Total,
			Page:       page.Page,
			PerPage:    page.PerPage,
			TotalPages: page.TotalPages(),
		},
	})
}

func (h *handlers) updateCapacity(w http.ResponseWriter, r *http.Request) {
	slotID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateCapacityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	slot, err := h.slots.UpdateCapacity(r.Context(), userIDFrom(r.Context()), slotID, req.Capacity)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotResponse(*slot))
}

func (h *handlers) cancelSlot(w http.ResponseWriter, r *http.Request) {
	slotID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.slots.CancelSlot(r.Context(), userIDFrom(r.Context()), slotID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listProviderSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.slots.ListProviderSlots(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(slots, toSlotResponse))
}

func (h *handlers) listProviderAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := h.slots.ListProviderAppointments(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(appts, func(pa appointment.ProviderAppointment) ProviderAppointmentResponse {
		return ProviderAppointmentResponse{
			AppointmentResponse: toAppointmentResponse(pa.Appointment),
			StartTime:           pa.StartTime,
			EndTime:             pa.EndTime,
		}
	}))
}

// Appointments

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slotID := uuid.MustParse(req.SlotID)
	customerID := userIDFrom(r.Context())

	reserve := h.bookings.Book
	if req.Hold {
		reserve = h.bookings.Hold
	}
	appt, err := reserve(r.Context(), customerID, slotID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.bookings.Confirm(r.Context(), userIDFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.bookings.Cancel(r.Context(), userIDFrom(r.Context()), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listMyAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := h.bookings.GetMyAppointments(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(appts, toAppointmentResponse))
}

// Notifications

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := h.notifications.ListUnread(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handlers) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(r.Context(), userIDFrom(r.Context()), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Helpers

// decodeJSON writes a 400 and returns false when the body is malformed or invalid.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if fields := validateStruct(dst); fields != nil {
		writeValidationError(w, fields)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
