package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"garage.app/internal/apperr"
	"garage.app/internal/obs"
)

const (
	defaultRetries        = 3
	defaultRetryBaseDelay = 100 * time.Millisecond
	defaultSlowThreshold  = time.Second
	defaultHealthInterval = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// Opener creates a fresh pool. Reconnects call it after closing the old one.
type Opener func(ctx context.Context) (*sql.DB, error)

// Adapter is the single data-access primitive. Callers write SQL once in the
// MySQL convention; the adapter translates it for the configured dialect.
type Adapter struct {
	dialect        Dialect
	retries        int
	baseDelay      time.Duration
	slowThreshold  time.Duration
	healthInterval time.Duration
	log            zerolog.Logger
	opener         Opener
	sleep          func(ctx context.Context, d time.Duration) error

	mu sync.RWMutex
	db *sql.DB

	stats     statsCollector
	connected atomic.Bool

	listenersMu sync.Mutex
	listeners   []func(connected bool)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRetries sets the default number of attempts per call.
func WithRetries(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.retries = n
		}
	}
}

// WithRetryBaseDelay sets the backoff base; attempt k waits base*2^(k-1).
func WithRetryBaseDelay(d time.Duration) Option {
	return func(a *Adapter) {
		if d >= 0 {
			a.baseDelay = d
		}
	}
}

// WithSlowQueryThreshold sets the duration above which an attempt counts as slow.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.slowThreshold = d
		}
	}
}

// WithHealthInterval sets the MonitorHealth period.
func WithHealthInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.healthInterval = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// WithOpener enables Reconnect for adapters built around an existing pool.
func WithOpener(fn Opener) Option {
	return func(a *Adapter) { a.opener = fn }
}

// WithStatusListener registers fn to be called on connectivity transitions.
func WithStatusListener(fn func(connected bool)) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.listeners = append(a.listeners, fn)
		}
	}
}

// New wraps an existing pool and reports it as connected.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Adapter {
	a := newAdapter(db, dialect, opts...)
	a.connected.Store(true)
	a.notify(true)
	return a
}

func newAdapter(db *sql.DB, dialect Dialect, opts ...Option) *Adapter {
	a := &Adapter{
		dialect:        dialect,
		retries:        defaultRetries,
		baseDelay:      defaultRetryBaseDelay,
		slowThreshold:  defaultSlowThreshold,
		healthInterval: defaultHealthInterval,
		log:            obs.Logger(),
		sleep:          sleepContext,
		db:             db,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With().Str("component", "database").Str("dialect", dialect.Name()).Logger()
	return a
}

// Open creates a pool for dialect and tests it. A failed initial test is
// logged and left for the health monitor rather than returned.
func Open(ctx context.Context, dialect Dialect, dsn string, pool PoolOptions, opts ...Option) (*Adapter, error) {
	opener := func(context.Context) (*sql.DB, error) { return dialect.open(dsn, pool) }
	return openWith(ctx, dialect, opener, opts...)
}

// openWith reports status to listeners once, after the first connection test.
func openWith(ctx context.Context, dialect Dialect, opener Opener, opts ...Option) (*Adapter, error) {
	db, err := opener(ctx)
	if err != nil {
		return nil, err
	}
	a := newAdapter(db, dialect, append([]Option{WithOpener(opener)}, opts...)...)
	ok := a.TestConnection(ctx)
	a.connected.Store(ok)
	a.notify(ok)
	return a, nil
}

// Dialect returns the engine this adapter targets.
func (a *Adapter) Dialect() Dialect { return a.dialect }

func (a *Adapter) handle() *sql.DB {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.db
}

// Close closes the underlying pool.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// Query runs query with the default retry budget.
func (a *Adapter) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return a.QueryWithRetries(ctx, a.retries, query, args...)
}

// QueryWithRetries runs query with at most retries attempts.
func (a *Adapter) QueryWithRetries(ctx context.Context, retries int, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := a.run(ctx, retries, query, args, func(ctx context.Context, db *sql.DB, q string) error {
		r, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	return rows, err
}

// Exec runs a statement with the default retry budget.
func (a *Adapter) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return a.ExecWithRetries(ctx, a.retries, query, args...)
}

// ExecWithRetries runs a statement with at most retries attempts.
func (a *Adapter) ExecWithRetries(ctx context.Context, retries int, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := a.run(ctx, retries, query, args, func(ctx context.Context, db *sql.DB, q string) error {
		r, err := db.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

// QueryRow runs query and scans its first row into dest. An empty result
// returns sql.ErrNoRows unwrapped.
func (a *Adapter) QueryRow(ctx context.Context, query string, args []any, dest ...any) error {
	rows, err := a.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return apperr.Database("read rows", err)
		}
		return sql.ErrNoRows
	}
	if err := rows.Scan(dest...); err != nil {
		return apperr.Database("scan row", err)
	}
	return nil
}

type attemptFunc func(ctx context.Context, db *sql.DB, query string) error

func (a *Adapter) run(ctx context.Context, retries int, query string, args []any, fn attemptFunc) error {
	if retries < 1 {
		retries = 1
	}
	translated := a.dialect.Translate(query)

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= retries; attempt++ {
		attempts = attempt
		db := a.handle()
		if db == nil {
			lastErr = errors.New("database: adapter is closed")
			break
		}

		start := time.Now()
		err := fn(ctx, db, translated)
		elapsed := time.Since(start)
		slow := elapsed > a.slowThreshold

		a.stats.record(elapsed, err != nil, slow)
		obs.ObserveQuery(a.dialect.Name(), elapsed, err != nil, slow)

		if slow {
			a.log.Warn().
				Str("sql", normalize(translated)).
				Interface("params", args).
				Float64("duration_ms", float64(elapsed)/float64(time.Millisecond)).
				Int("attempt", attempt).
				Msg("slow query")
		}
		if err == nil {
			return nil
		}

		lastErr = err
		a.log.Error().
			Err(err).
			Str("sql", normalize(translated)).
			Int("attempt", attempt).
			Int("max_attempts", retries).
			Msg("query attempt failed")

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < retries {
			if err := a.sleep(ctx, a.baseDelay<<(attempt-1)); err != nil {
				break
			}
		}
	}

	return apperr.Database("database query failed", lastErr).WithDetails(map[string]any{
		"sql":         query,
		"params":      args,
		"dialect":     a.dialect.Name(),
		"attempts":    attempts,
		"pool":        a.PoolStats(),
		"query_stats": a.QueryStats(),
	})
}

// TestConnection runs a trivial query once. It never returns an error;
// failures are logged. Health probes are not counted in QueryStats.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	db := a.handle()
	if db == nil {
		return false
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		a.log.Error().Err(err).Msg("database connection test failed")
		return false
	}
	return true
}

// Connected reports the result of the latest health check.
func (a *Adapter) Connected() bool { return a.connected.Load() }

// PoolStats returns the current pool counters.
func (a *Adapter) PoolStats() PoolStats {
	db := a.handle()
	if db == nil {
		return PoolStats{}
	}
	s := db.Stats()
	return PoolStats{
		MaxOpen:      s.MaxOpenConnections,
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

// QueryStats returns a consistent snapshot of the counters.
func (a *Adapter) QueryStats() QueryStats { return a.stats.snapshot() }

// ResetQueryStats zeroes every counter.
func (a *Adapter) ResetQueryStats() {
	a.stats.reset()
	a.log.Info().Msg("query statistics reset")
}

// Tx is a transaction whose statements are translated like the adapter's.
// Statements inside a transaction are not retried.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Translate(query), args...)
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Translate(query), args...)
}

// WithTx begins a transaction, runs fn, and commits on success or rolls back
// on error or panic. Panics are rethrown.
func (a *Adapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	db := a.handle()
	if db == nil {
		return apperr.Database("begin transaction", errors.New("database: adapter is closed"))
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Database("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		if cerr := sqlTx.Commit(); cerr != nil {
			err = apperr.Database("commit transaction", cerr)
		}
	}()

	return fn(ctx, &Tx{tx: sqlTx, dialect: a.dialect})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
