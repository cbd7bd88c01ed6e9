package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "treasury",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "treasury",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total balance operations by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	unrecordedMutations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "ledger",
			Name:      "unrecorded_mutations_total",
			Help:      "Balance mutations whose transaction record failed to persist.",
		},
	)

	loanTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "loans",
			Name:      "transitions_total",
			Help:      "Loan state transitions by target state.",
		},
		[]string{"to"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "treasury",
			Subsystem: "loans",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of overdue-loan sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	rateLimitEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "rowstore",
			Name:      "rate_limit_events_total",
			Help:      "Times the remote store returned a rate-limit response.",
		},
	)

	throttledRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "treasury",
			Subsystem: "http",
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-caller rate limiter.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		unrecordedMutations,
		loanTransitions,
		sweepDuration,
		rateLimitEvents,
		throttledRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordLedgerOperation counts a balance operation and its outcome.
func RecordLedgerOperation(operation string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	ledgerOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordUnrecordedMutation counts a balance write whose transaction log entry
// could not be persisted. These require reconciliation.
func RecordUnrecordedMutation() {
	unrecordedMutations.Inc()
}

// RecordLoanTransition counts a loan entering a new state.
func RecordLoanTransition(to string) {
	loanTransitions.WithLabelValues(to).Inc()
}

// RecordSweep records the duration of one overdue-loan sweep.
func RecordSweep(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	sweepDuration.Observe(duration.Seconds())
}

// RecordStoreRateLimit counts a rate-limit response from the remote store.
func RecordStoreRateLimit() {
	rateLimitEvents.Inc()
}

// RecordThrottledRequest counts a request rejected by the per-caller limiter.
func RecordThrottledRequest() {
	throttledRequests.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "balances", "loans", "incidents":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
