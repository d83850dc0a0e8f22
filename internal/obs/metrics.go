package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Domain metrics for the vesting engine.
var (
	programsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vesting_programs_created_total",
		Help: "Vesting programs created.",
	})

	employeesAllocatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vesting_employees_allocated_total",
		Help: "Employee vesting schedules allocated.",
	})

	claimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vesting_claims_total",
		Help: "Successful claim operations.",
	})

	tokensClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vesting_tokens_claimed_total",
		Help: "Tokens transferred out of escrow by claims, smallest unit.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		programsCreatedTotal, employeesAllocatedTotal, claimsTotal, tokensClaimedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ProgramCreated records a successful program creation.
func ProgramCreated() { programsCreatedTotal.Inc() }

// EmployeeAllocated records a successful allocation.
func EmployeeAllocated() { employeesAllocatedTotal.Inc() }

// ClaimExecuted records one successful claim of amount tokens.
func ClaimExecuted(amount uint64) {
	claimsTotal.Inc()
	tokensClaimedTotal.Add(float64(amount))
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses record identifiers out of the path so metric
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	rest, ok := strings.CutPrefix(path, "/v1/programs/")
	if !ok || rest == "" {
		return path
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		return "/v1/programs/:name"
	case len(parts) == 2 && parts[1] == "employees":
		return "/v1/programs/:name/employees"
	case len(parts) == 3 && parts[1] == "employees":
		return "/v1/programs/:name/employees/:addr"
	default:
		return path
	}
}

// statusWriter records the response code written by the handler chain.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
