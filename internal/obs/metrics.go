package obs

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions by operation class.",
		},
		[]string{"class", "outcome"},
	)

	auditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit events that could not be written, by sink.",
		},
		[]string{"sink"},
	)

	amlProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aml_provider_requests_total",
			Help: "Outbound AML provider attempts by outcome.",
		},
		[]string{"outcome"},
	)

	apiKeyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_key_auth_failures_total",
			Help: "Rejected API key authentications by reason.",
		},
		[]string{"reason"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lexintake_build_info",
			Help: "Constant 1, labelled with the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)

	initOnce sync.Once
)

// Init registers the service metrics with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			rateLimitDecisions,
			auditFailures,
			amlProviderRequests,
			apiKeyFailures,
			buildInfo,
		)
	})
}

// InitBuildInfo publishes version and commit on lexintake_build_info.
func InitBuildInfo(version, commit string) {
	Init()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRateLimit(class string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	rateLimitDecisions.WithLabelValues(class, outcome).Inc()
}

func RecordAuditFailure(sink string) {
	auditFailures.WithLabelValues(sink).Inc()
}

func RecordAMLAttempt(outcome string) {
	amlProviderRequests.WithLabelValues(outcome).Inc()
}

func RecordAPIKeyFailure(reason string) {
	apiKeyFailures.WithLabelValues(reason).Inc()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in paths so metric label cardinality
// stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	if len(raw) > 1 {
		raw = strings.TrimSuffix(raw, "/")
	}
	const checks = "/api/external/aml/checks/"
	if strings.HasPrefix(raw, checks) {
		rest := strings.TrimPrefix(raw, checks)
		if rest != "" && !strings.Contains(rest, "/") {
			return checks + ":id"
		}
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
