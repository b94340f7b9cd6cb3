// Package audit records security decisions as structured log lines and,
// optionally, rows in the audit_log table.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"garage.app/internal/auth"
	"garage.app/internal/ids"
	"garage.app/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	l := obs.Logger()
	ev := l.Info().Str("type", "audit").Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		ev = ev.Str("user_id", p.UserID)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	ev.Interface("fields", fields).Msg(event)
	return nil
}

// Actions recorded for role checks.
const (
	ActionGranted = "authorization_granted"
	ActionDenied  = "authorization_denied"
)

// Entry is one authorization decision.
type Entry struct {
	ID            string    `json:"id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Action        string    `json:"action"`
	UserID        string    `json:"user_id"`
	RequiredRoles []int     `json:"required_roles"`
	ActualRole    int       `json:"actual_role"`
	Endpoint      string    `json:"endpoint"`
	Method        string    `json:"method"`
	IP            string    `json:"ip"`
	UserAgent     string    `json:"user_agent"`
	RequestID     string    `json:"request_id,omitempty"`
}

// Sink persists entries.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

// Recorder writes every entry as a log line and forwards it to an optional sink.
type Recorder struct {
	log  zerolog.Logger
	sink Sink
	now  func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithSink(s Sink) Option {
	return func(r *Recorder) { r.sink = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{log: obs.Logger(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record fills in id, time and request id when unset, logs the entry and
// appends it to the sink. The log line is written even if the sink fails.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}

	lvl := zerolog.InfoLevel
	if e.Action == ActionDenied {
		lvl = zerolog.WarnLevel
	}
	r.log.WithLevel(lvl).
		Str("type", "audit").
		Str("audit_id", e.ID).
		Str("action", e.Action).
		Str("user_id", e.UserID).
		Ints("required_roles", e.RequiredRoles).
		Int("actual_role", e.ActualRole).
		Str("endpoint", e.Endpoint).
		Str("method", e.Method).
		Str("ip", e.IP).
		Str("user_agent", e.UserAgent).
		Str("request_id", e.RequestID).
		Time("occurred_at", e.OccurredAt).
		Msg(e.Action)

	if r.sink == nil {
		return nil
	}
	if err := r.sink.Append(ctx, &e); err != nil {
		r.log.Error().Err(err).Str("audit_id", e.ID).Msg("persist audit entry")
		return err
	}
	return nil
}
