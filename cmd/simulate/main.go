package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-slot-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Customers     int
	SlotPages     int
	BookingRatio  float64
	HoldRatio     float64
	CancelRatio   float64
	ReadRatio     float64
	ConfirmChance float64
}

// DataPool is shared by all workers. Appointments are tracked per owner so
// confirm and cancel are sent with the right identity.
type DataPool struct {
	Customers []uuid.UUID
	Slots     []uuid.UUID

	mu    sync.Mutex
	held  []ownedAppointment
	taken []ownedAppointment
}

type ownedAppointment struct {
	ID       uuid.UUID
	Customer uuid.UUID
}

func (dp *DataPool) add(list *[]ownedAppointment, a ownedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	*list = append(*list, a)
}

// take removes and returns a random element.
func (dp *DataPool) take(list *[]ownedAppointment, rng *rand.Rand) (ownedAppointment, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(*list) == 0 {
		return ownedAppointment{}, false
	}
	i := rng.Intn(len(*list))
	a := (*list)[i]
	(*list)[i] = (*list)[len(*list)-1]
	*list = (*list)[:len(*list)-1]
	return a, true
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	log := logger.Must("simulate", "", false)
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("hold", cfg.HoldRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	sim.pool = pool
	log.Info("data pool loaded", zap.Int("customers", len(pool.Customers)), zap.Int("slots", len(pool.Slots)))

	if err := sim.Run(context.Background()); err != nil {
		log.Fatal("simulation failed", zap.Error(err))
	}

	sim.metrics.WriteReport(os.Stdout, cfg.Duration, cfg.Workers)
}

func loadConfig() (SimConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:8080")
	v.SetDefault("SIM_DURATION", "30s")
	v.SetDefault("SIM_WORKERS", 10)
	v.SetDefault("SIM_CUSTOMERS", 500)
	v.SetDefault("SIM_SLOT_PAGES", 5)
	v.SetDefault("SIM_BOOKING_RATIO", 0.4)
	v.SetDefault("SIM_HOLD_RATIO", 0.2)
	v.SetDefault("SIM_CANCEL_RATIO", 0.1)
	v.SetDefault("SIM_READ_RATIO", 0.3)
	v.SetDefault("SIM_CONFIRM_CHANCE", 0.7)

	cfg := SimConfig{
		APIBaseURL:    v.GetString("SIM_API_BASE_URL"),
		Duration:      v.GetDuration("SIM_DURATION"),
		Workers:       v.GetInt("SIM_WORKERS"),
		Customers:     v.GetInt("SIM_CUSTOMERS"),
		SlotPages:     v.GetInt("SIM_SLOT_PAGES"),
		BookingRatio:  v.GetFloat64("SIM_BOOKING_RATIO"),
		HoldRatio:     v.GetFloat64("SIM_HOLD_RATIO"),
		CancelRatio:   v.GetFloat64("SIM_CANCEL_RATIO"),
		ReadRatio:     v.GetFloat64("SIM_READ_RATIO"),
		ConfirmChance: v.GetFloat64("SIM_CONFIRM_CHANCE"),
	}

	if cfg.Workers <= 0 {
		return cfg, errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, errors.New("SIM_DURATION must be > 0")
	}
	if cfg.Customers <= 0 {
		return cfg, errors.New("SIM_CUSTOMERS must be > 0")
	}

	total := cfg.BookingRatio + cfg.HoldRatio + cfg.CancelRatio + cfg.ReadRatio
	if total <= 0 {
		return cfg, errors.New("at least one SIM_*_RATIO must be positive")
	}
	cfg.BookingRatio /= total
	cfg.HoldRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total

	return cfg, nil
}

// loadDataPool reads open slots from the API and invents customers; the API
// trusts X-User-ID, so any UUID is a valid caller.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	pool := &DataPool{}

	for range s.config.Customers {
		pool.Customers = append(pool.Customers, uuid.MustParse(gofakeit.UUID()))
	}

	for page := 1; page <= s.config.SlotPages; page++ {
		var resp struct {
			Data []struct {
				ID uuid.UUID `json:"id"`
			} `json:"data"`
		}
		url := fmt.Sprintf("%s/slots?page=%d&per_page=100", s.config.APIBaseURL, page)
		status, _, err := s.call(ctx, http.MethodGet, url, uuid.Nil, nil, &resp)
		if err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("list slots: unexpected status %d", status)
		}
		for _, slot := range resp.Data {
			pool.Slots = append(pool.Slots, slot.ID)
		}
		if len(resp.Data) < 100 {
			break
		}
	}

	if len(pool.Slots) == 0 {
		return nil, errors.New("no open slots, run cmd/seed first")
	}
	return pool, nil
}

func (s *Simulator) Run(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation")

	g, gctx := errgroup.WithContext(ctx)
	for i := range s.config.Workers {
		g.Go(func() error {
			s.worker(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Info("simulation complete")
	return nil
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doReserve(ctx, rng, false)
		case r < c.BookingRatio+c.HoldRatio:
			s.doReserve(ctx, rng, true)
		case r < c.BookingRatio+c.HoldRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doListSlots(ctx, rng)
			} else {
				s.doListMine(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand, hold bool) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	customer := s.pool.Customers[rng.Intn(len(s.pool.Customers))]

	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, code, err := s.call(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", customer,
		map[string]any{"slot_id": slotID, "hold": hold}, &appt)
	if ctx.Err() != nil {
		return
	}

	o := classify(status, code, err)
	metrics := &s.metrics.Book
	if hold {
		metrics = &s.metrics.Hold
	}
	metrics.Record(time.Since(start), o)

	if o != outcomeSuccess || appt.ID == uuid.Nil {
		return
	}
	owned := ownedAppointment{ID: appt.ID, Customer: customer}
	if !hold {
		s.pool.add(&s.pool.taken, owned)
		return
	}
	if rng.Float64() < s.config.ConfirmChance {
		s.doConfirm(ctx, owned)
	}
	// Unconfirmed holds are left for the expiry sweeper.
}

func (s *Simulator) doConfirm(ctx context.Context, a ownedAppointment) {
	start := time.Now()
	url := fmt.Sprintf("%s/appointments/%s/confirm", s.config.APIBaseURL, a.ID)
	status, code, err := s.call(ctx, http.MethodPost, url, a.Customer, nil, nil)
	if ctx.Err() != nil {
		return
	}
	o := classify(status, code, err)
	s.metrics.Confirm.Record(time.Since(start), o)
	if o == outcomeSuccess {
		s.pool.add(&s.pool.taken, a)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.take(&s.pool.taken, rng)
	if !ok {
		return
	}
	start := time.Now()
	url := fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, a.ID)
	status, code, err := s.call(ctx, http.MethodPost, url, a.Customer, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(time.Since(start), classify(status, code, err))
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	url := fmt.Sprintf("%s/slots?page=%d&per_page=20", s.config.APIBaseURL, rng.Intn(5)+1)
	status, code, err := s.call(ctx, http.MethodGet, url, uuid.Nil, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListSlots.Record(time.Since(start), classify(status, code, err))
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	customer := s.pool.Customers[rng.Intn(len(s.pool.Customers))]
	start := time.Now()
	status, code, err := s.call(ctx, http.MethodGet, s.config.APIBaseURL+"/appointments", customer, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListMyBooking.Record(time.Since(start), classify(status, code, err))
}

// call returns the status code and, for error responses, the API error code.
// On success the body is decoded into out when out is non-nil.
func (s *Simulator) call(ctx context.Context, method, url string, user uuid.UUID, body, out any) (int, string, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set("X-User-ID", user.String())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, apiErr.Error, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, "", nil
}
