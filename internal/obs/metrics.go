package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики слоя БД
var (
	dbQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_attempts_total",
			Help: "Query attempts executed through the dialect adapter.",
		},
		[]string{"dialect", "outcome"},
	)

	dbSlowQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Query attempts slower than the configured threshold.",
		},
		[]string{"dialect"},
	)

	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Query attempt latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dialect"},
	)

	dbConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_connected",
			Help: "1 when the last database health check succeeded.",
		},
		[]string{"dialect"},
	)
)

// Метрики аутентификации
var (
	authLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authSessionsTerminated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_terminated_total",
			Help: "Sessions removed from the store by reason.",
		},
		[]string{"reason"},
	)

	authDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_authorization_decisions_total",
			Help: "Role checks by decision.",
		},
		[]string{"decision"},
	)
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			dbQueriesTotal, dbSlowQueriesTotal, dbQueryDuration, dbConnected,
			authLoginsTotal, authSessionsTerminated, authDecisionsTotal,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveQuery records one adapter attempt.
func ObserveQuery(dialect string, d time.Duration, failed, slow bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	dbQueriesTotal.WithLabelValues(dialect, outcome).Inc()
	dbQueryDuration.WithLabelValues(dialect).Observe(d.Seconds())
	if slow {
		dbSlowQueriesTotal.WithLabelValues(dialect).Inc()
	}
}

// SetDBConnected reflects the latest health check result.
func SetDBConnected(dialect string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	dbConnected.WithLabelValues(dialect).Set(v)
}

// CountLogin records a login outcome ("success", "failure", "error").
func CountLogin(outcome string) {
	authLoginsTotal.WithLabelValues(outcome).Inc()
}

// CountSessionsTerminated records n sessions removed for reason.
func CountSessionsTerminated(reason string, n int) {
	if n <= 0 {
		return
	}
	authSessionsTerminated.WithLabelValues(reason).Add(float64(n))
}

// CountDecision records a role check outcome ("granted" or "denied").
func CountDecision(decision string) {
	authDecisionsTotal.WithLabelValues(decision).Inc()
}

// Обёртка для измерения RPS/latency/в полёте.
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

// CanonicalPath collapses identifiers in known routes so metric label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	// /api/{resource}/{id}
	if len(parts) == 3 && parts[0] == "api" && isIdentifier(parts[2]) {
		parts[2] = ":id"
		return "/" + strings.Join(parts, "/")
	}
	return raw
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
