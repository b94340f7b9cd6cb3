package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"garage.app/internal/apperr"
	"garage.app/internal/audit"
	"garage.app/internal/auth"
	"garage.app/internal/database"
	"garage.app/internal/obs"
)

const (
	serviceName = "garage-api"

	defaultRateBurst   = 40
	defaultRatePerSec  = 20
	defaultMaxBodySize = 1 << 20
	readyTimeout       = 2 * time.Second
)

// API is the HTTP layer.
type API struct {
	router  *mux.Router
	auth    *auth.Authority
	db      *database.Adapter
	audit   *audit.Recorder
	log     zerolog.Logger
	version string
	dev     bool

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

// Option configures API.
type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithDevelopment exposes error details and internal messages to clients.
func WithDevelopment(dev bool) Option {
	return func(a *API) { a.dev = dev }
}

func WithAuditRecorder(r *audit.Recorder) Option {
	return func(a *API) {
		if r != nil {
			a.audit = r
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *API) { a.log = l }
}

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithMaxBodySize limits request bodies to n bytes.
func WithMaxBodySize(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// New wires routes for authority and db. db may be nil when no database is
// configured; readiness then always succeeds and the admin stats routes 404.
func New(authority *auth.Authority, db *database.Adapter, opts ...Option) *API {
	a := &API{
		router:     mux.NewRouter(),
		auth:       authority,
		db:         db,
		log:        obs.Logger(),
		version:    "dev",
		rateBurst:  defaultRateBurst,
		ratePerSec: defaultRatePerSec,
		maxBody:    defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = audit.NewRecorder(audit.WithLogger(a.log))
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperr.NotFound("route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, &apperr.Error{
			Type:       apperr.TypeValidation,
			Message:    "method not allowed",
			StatusCode: http.StatusMethodNotAllowed,
			Severity:   apperr.SeverityLow,
		})
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	emp := r.PathPrefix("/api/employee").Subrouter()
	emp.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	emp.HandleFunc("/refresh", a.handleRefresh).Methods(http.MethodPost)
	emp.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)
	emp.Handle("/me", a.authenticate(a.requireRole(auth.AllRoles...)(http.HandlerFunc(a.handleMe)))).
		Methods(http.MethodGet)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(a.authenticate, a.requireRole(auth.RoleAdmin))
	admin.HandleFunc("/performance/database", a.handleDatabaseStats).Methods(http.MethodGet)
	admin.HandleFunc("/performance/database/reset", a.handleDatabaseReset).Methods(http.MethodPost)
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

// Ready probes the database once. Probes are not counted in query stats.
func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if !a.db.TestConnection(ctx) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "not_ready",
				"dialect": a.db.Dialect().Name(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

type errorBody struct {
	apperr.View
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data})
}

// writeError renders err in the public error envelope and logs server-side
// failures with their cause.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	if e.Internal() {
		a.log.Error().
			Err(e).
			Str("request_id", audit.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Interface("details", e.Details).
			Msg("request failed")
	}
	writeJSON(w, e.StatusCode, map[string]any{
		"status": "error",
		"error": errorBody{
			View:      e.Public(a.dev),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		case errors.As(err, &maxErr):
			return &apperr.Error{
				Type:       apperr.TypeValidation,
				Message:    "request body too large",
				StatusCode: http.StatusRequestEntityTooLarge,
				Severity:   apperr.SeverityLow,
			}
		}
		return apperr.Validation("invalid JSON body")
	}
	if dec.More() {
		return apperr.Validation("unexpected data after JSON body")
	}
	return nil
}
