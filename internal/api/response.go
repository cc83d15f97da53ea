package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_failed",
		Details: "request is invalid",
		Fields:  fields,
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{appointment.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{appointment.ErrInvalidCapacity, http.StatusBadRequest, "invalid_capacity"},
	{appointment.ErrForbidden, http.StatusForbidden, "forbidden"},
	{appointment.ErrNotFound, http.StatusNotFound, "not_found"},
	{appointment.ErrOverlap, http.StatusConflict, "slot_overlap"},
	{appointment.ErrDuplicateSlot, http.StatusConflict, "duplicate_slot"},
	{appointment.ErrSlotFull, http.StatusConflict, "slot_full"},
	{appointment.ErrSlotCancelled, http.StatusConflict, "slot_cancelled"},
	{appointment.ErrAlreadyBooked, http.StatusConflict, "already_booked"},
	{appointment.ErrAlreadyCancelled, http.StatusConflict, "already_cancelled"},
	{appointment.ErrHoldExpired, http.StatusConflict, "hold_expired"},
	{appointment.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
}

// writeServiceError maps domain errors to HTTP. Anything unknown is logged
// and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	if appointment.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "conflict",
			Details:   err.Error(),
			Retryable: true,
		})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}

	log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
