package main

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFull            // slot_full / already_booked: the engine said no, correctly
	outcomeRetry           // lock timeout / version conflict / rate limited
	outcomeRejected        // other 4xx
	outcomeError           // transport errors and 5xx
)

func classify(status int, code string, err error) outcome {
	switch {
	case err != nil || status >= 500:
		return outcomeError
	case status < 300:
		return outcomeSuccess
	case status == http.StatusTooManyRequests, code == "conflict":
		return outcomeRetry
	case code == "slot_full", code == "already_booked":
		return outcomeFull
	default:
		return outcomeRejected
	}
}

type OperationMetrics struct {
	mu        sync.Mutex
	counts    [outcomeError + 1]int64
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.counts[o]++
	om.latencies = append(om.latencies, latency)
}

type latencyStats struct {
	Avg, Min, Max, P50, P95, P99 time.Duration
}

func (om *OperationMetrics) Stats() latencyStats {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return latencyStats{}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	return latencyStats{
		Avg: sum / time.Duration(len(latencies)),
		Min: latencies[0],
		Max: latencies[len(latencies)-1],
		P50: percentile(latencies, 50),
		P95: percentile(latencies, 95),
		P99: percentile(latencies, 99),
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (om *OperationMetrics) Total() int64 {
	om.mu.Lock()
	defer om.mu.Unlock()
	var total int64
	for _, c := range om.counts {
		total += c
	}
	return total
}

func (om *OperationMetrics) Count(o outcome) int64 {
	om.mu.Lock()
	defer om.mu.Unlock()
	return om.counts[o]
}

type Metrics struct {
	Book          OperationMetrics
	Hold          OperationMetrics
	Confirm       OperationMetrics
	Cancel        OperationMetrics
	ListSlots     OperationMetrics
	ListMyBooking OperationMetrics
}

func (m *Metrics) WriteReport(w io.Writer, duration time.Duration, workers int) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "SIMULATION REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Duration: %s\n", duration)
	fmt.Fprintf(w, "Workers: %d\n\n", workers)

	writeOperationReport(w, "Book", &m.Book)
	writeOperationReport(w, "Hold", &m.Hold)
	writeOperationReport(w, "Confirm", &m.Confirm)
	writeOperationReport(w, "Cancel", &m.Cancel)
	writeOperationReport(w, "List slots", &m.ListSlots)
	writeOperationReport(w, "List my appointments", &m.ListMyBooking)
}

func writeOperationReport(w io.Writer, name string, om *OperationMetrics) {
	total := om.Total()
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Total: %d\n", total)
	rows := []struct {
		label string
		o     outcome
	}{
		{"Success", outcomeSuccess},
		{"Full", outcomeFull},
		{"Retryable", outcomeRetry},
		{"Rejected", outcomeRejected},
		{"Errors", outcomeError},
	}
	for _, row := range rows {
		if n := om.Count(row.o); n > 0 || row.o == outcomeSuccess {
			fmt.Fprintf(w, "  %s: %d (%.1f%%)\n", row.label, n, pct(n))
		}
	}

	s := om.Stats()
	fmt.Fprintf(w, "  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n\n",
		s.Avg.Round(time.Millisecond), s.Min.Round(time.Millisecond), s.Max.Round(time.Millisecond),
		s.P50.Round(time.Millisecond), s.P95.Round(time.Millisecond), s.P99.Round(time.Millisecond))
}
