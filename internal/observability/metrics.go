// Package observability provides Prometheus metrics and in-process request
// accounting for the gateway.
package observability

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts dispatched requests by operation, model, and outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpgate_requests_total",
			Help: "Total dispatched requests",
		},
		[]string{"operation", "model", "status"},
	)

	// RequestDuration records dispatch duration in seconds by operation and model.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpgate_request_duration_seconds",
			Help:    "Dispatch duration",
			Buckets: LLMBuckets,
		},
		[]string{"operation", "model"},
	)

	// StreamingConnections tracks the number of active streaming responses.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpgate_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
	)
}

// Stats accumulates coarse request timing across the process lifetime.
type Stats struct {
	mu            sync.Mutex
	totalRequests int64
	totalTime     time.Duration
	minTime       time.Duration
	maxTime       time.Duration
}

// NewStats creates an empty accumulator.
func NewStats() *Stats {
	return &Stats{minTime: time.Duration(math.MaxInt64)}
}

// Record folds one request duration into the accumulator.
func (s *Stats) Record(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.totalTime += elapsed
	if elapsed < s.minTime {
		s.minTime = elapsed
	}
	if elapsed > s.maxTime {
		s.maxTime = elapsed
	}
}

// Snapshot is a point-in-time view of the accumulated stats.
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalSeconds  float64 `json:"total_seconds"`
	MinSeconds    float64 `json:"min_seconds"`
	MaxSeconds    float64 `json:"max_seconds"`
	AvgSeconds    float64 `json:"avg_seconds"`
}

// Snapshot returns the current totals. Min is zero until the first request.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalRequests: s.totalRequests,
		TotalSeconds:  s.totalTime.Seconds(),
		MaxSeconds:    s.maxTime.Seconds(),
	}
	if s.totalRequests > 0 {
		snap.MinSeconds = s.minTime.Seconds()
		snap.AvgSeconds = s.totalTime.Seconds() / float64(s.totalRequests)
	}
	return snap
}

// Recorder ties the Prometheus metrics and Stats together for the request
// handling layer.
type Recorder struct {
	stats *Stats
}

// NewRecorder creates a recorder with a fresh Stats accumulator.
func NewRecorder() *Recorder {
	return &Recorder{stats: NewStats()}
}

// Stats exposes the underlying accumulator.
func (r *Recorder) Stats() *Stats {
	return r.stats
}

// Observe records a completed dispatch: counters, histogram, stats, and a
// perf log line.
func (r *Recorder) Observe(operation, model string, start time.Time, failed bool) {
	elapsed := time.Since(start)

	status := "ok"
	if failed {
		status = "error"
	}
	RequestsTotal.WithLabelValues(operation, model, status).Inc()
	RequestDuration.WithLabelValues(operation, model).Observe(elapsed.Seconds())
	r.stats.Record(elapsed)

	slog.Debug("request completed",
		"operation", operation,
		"model", model,
		"status", status,
		"elapsed", elapsed,
	)
}
