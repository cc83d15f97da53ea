package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-slot-booking/internal/appointment"
	"github.com/hackgods/appointment-slot-booking/internal/appointment/memstore"
	"github.com/hackgods/appointment-slot-booking/internal/notification"
)

var slotStart = time.Date(2030, time.March, 4, 9, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	svc     *appointment.Service
}

func newTestServer(t *testing.T, rps float64) *testServer {
	t.Helper()

	clock := appointment.ClockFunc(func() time.Time { return slotStart.Add(-48 * time.Hour) })
	notifier := notification.NewService(notification.NewMemInbox(), nil, clock, zap.NewNop())
	svc := appointment.NewService(memstore.New(time.Second), notifier, appointment.Options{Clock: clock}, zap.NewNop())

	return &testServer{
		svc: svc,
		handler: NewRouter(RouterConfig{
			Slots:          svc,
			Bookings:       svc,
			Notifications:  notifier,
			Env:            "test",
			RateLimitRPS:   rps,
			RateLimitBurst: 1,
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, user uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != uuid.Nil {
		req.Header.Set(UserIDHeader, user.String())
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (s *testServer) createSlot(t *testing.T, provider uuid.UUID, offset time.Duration, capacity int) SlotResponse {
	t.Helper()
	start := slotStart.Add(offset)
	rec := s.do(t, http.MethodPost, "/slots", provider, map[string]any{
		"start_time": start,
		"end_time":   start.Add(30 * time.Minute),
		"capacity":   capacity,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SlotResponse](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/health/live", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/health/ready", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["postgres"])
}

type downPostgres struct{}

func (downPostgres) Ping(context.Context) error { return errors.New("connection refused") }

type downRedis struct{}

func (downRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetErr(errors.New("connection refused"))
	return cmd
}

func TestReadiness_DependencyFailures(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil, downRedis{}, "test", "").Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[ReadinessResponse](t, rec).Status)

	rec = httptest.NewRecorder()
	NewHealthHandler(downPostgres{}, downRedis{}, "test", "").Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decode[ReadinessResponse](t, rec).Status)
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/appointments", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set(UserIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlotLifecycle(t *testing.T) {
	s := newTestServer(t, 0)
	provider := uuid.New()

	slot := s.createSlot(t, provider, 0, 2)
	assert.Equal(t, 2, slot.Capacity)
	assert.Equal(t, 2, slot.Available)

	rec := s.do(t, http.MethodPost, "/slots", provider, map[string]any{
		"start_time": slotStart.Add(15 * time.Minute),
		"end_time":   slotStart.Add(45 * time.Minute),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_overlap", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/slots", provider, map[string]any{
		"start_time": slotStart.Add(2 * time.Hour),
		"end_time":   slotStart.Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/slots", provider, map[string]any{"capacity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPatch, "/slots/"+slot.ID.String()+"/capacity", provider, map[string]any{"capacity": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[SlotResponse](t, rec).Capacity)

	rec = s.do(t, http.MethodPatch, "/slots/"+slot.ID.String()+"/capacity", uuid.New(), map[string]any{"capacity": 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/providers/me/slots", provider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 1)

	rec = s.do(t, http.MethodDelete, "/slots/"+slot.ID.String(), provider, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, "/slots/"+slot.ID.String(), provider, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_cancelled", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodDelete, "/slots/"+uuid.NewString(), provider, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/slots/nope", provider, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAvailableSlots(t *testing.T) {
	s := newTestServer(t, 0)
	provider := uuid.New()

	for i := range 3 {
		s.createSlot(t, provider, time.Duration(i)*time.Hour, 1)
	}
	s.createSlot(t, uuid.New(), 0, 1)

	rec := s.do(t, http.MethodGet, "/slots?page=1&per_page=2", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[PaginatedResponse[SlotResponse]](t, rec)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, int64(4), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	rec = s.do(t, http.MethodGet, "/slots?provider_id="+provider.String(), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[PaginatedResponse[SlotResponse]](t, rec)
	assert.Len(t, page.Data, 3)
	assert.Equal(t, 20, page.Pagination.PerPage)

	rec = s.do(t, http.MethodGet, "/slots?per_page=500", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/slots?provider_id=abc", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/slots?page=x", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/slots?page=9223372036854775807&per_page=2", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page = decode[PaginatedResponse[SlotResponse]](t, rec)
	assert.Empty(t, page.Data)
	assert.Equal(t, int64(4), page.Pagination.Total)
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t, 0)
	provider := uuid.New()
	customer := uuid.New()
	slot := s.createSlot(t, provider, 0, 1)

	rec := s.do(t, http.MethodPost, "/appointments", customer, map[string]any{"slot_id": slot.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "BOOKED", appt.Status)
	assert.Equal(t, customer, appt.CustomerID)

	rec = s.do(t, http.MethodPost, "/appointments", uuid.New(), map[string]any{"slot_id": slot.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_full", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/appointments", customer, map[string]any{"slot_id": "bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", customer, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", customer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHoldConfirmFlow(t *testing.T) {
	s := newTestServer(t, 0)
	customer := uuid.New()
	slot := s.createSlot(t, uuid.New(), 0, 1)

	rec := s.do(t, http.MethodPost, "/appointments", customer, map[string]any{"slot_id": slot.ID, "hold": true})
	require.Equal(t, http.StatusCreated, rec.Code)
	held := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "PENDING", held.Status)

	rec = s.do(t, http.MethodPost, "/appointments/"+held.ID.String()+"/confirm", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BOOKED", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/appointments/"+held.ID.String()+"/confirm", customer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)
}

func TestProviderCancellationReachesCustomerInbox(t *testing.T) {
	s := newTestServer(t, 0)
	provider := uuid.New()
	customer := uuid.New()
	slot := s.createSlot(t, provider, 0, 1)

	rec := s.do(t, http.MethodPost, "/appointments", customer, map[string]any{"slot_id": slot.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/providers/me/appointments", provider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	provAppts := decode[[]ProviderAppointmentResponse](t, rec)
	require.Len(t, provAppts, 1)
	assert.Equal(t, customer, provAppts[0].CustomerID)
	assert.True(t, provAppts[0].StartTime.Equal(slotStart))

	rec = s.do(t, http.MethodDelete, "/slots/"+slot.ID.String(), provider, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/notifications", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decode[[]notification.Notification](t, rec)
	require.Len(t, inbox, 1)
	assert.Contains(t, inbox[0].Message, "cancelled by the provider")

	rec = s.do(t, http.MethodPut, "/notifications/"+inbox[0].ID.String()+"/read", provider, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/notifications/"+inbox[0].ID.String()+"/read", customer, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/notifications", customer, nil)
	assert.Empty(t, decode[[]notification.Notification](t, rec))

	rec = s.do(t, http.MethodPut, "/notifications/"+uuid.NewString()+"/read", customer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitOnBooking(t *testing.T) {
	s := newTestServer(t, 0.001)
	slot := s.createSlot(t, uuid.New(), 0, 5)

	rec := s.do(t, http.MethodPost, "/appointments", uuid.New(), map[string]any{"slot_id": slot.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments", uuid.New(), map[string]any{"slot_id": slot.ID})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestWriteServiceError_Retryable(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/appointments", nil)

	writeServiceError(rec, req, zap.NewNop(), appointment.ErrLockTimeout)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	body := decode[ErrorResponse](t, rec)
	assert.True(t, body.Retryable)
}

func TestWriteServiceError_UnknownIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/slots", nil)

	writeServiceError(rec, req, zap.NewNop(), errors.New("pool exhausted"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[ErrorResponse](t, rec).Details)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
