// Package database executes SQL written once in the MySQL convention
// (? placeholders, backtick identifiers, MySQL functions) against either a
// MySQL or a PostgreSQL engine, translating text for the latter, with query
// statistics, bounded retry and health monitoring.
package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// Dialect is the closed set of supported engines. Use MySQL or Postgres.
type Dialect interface {
	// Name returns "mysql" or "postgres".
	Name() string
	// Translate rewrites source-dialect SQL for this engine.
	Translate(query string) string

	open(dsn string, opts PoolOptions) (*sql.DB, error)
}

// PoolOptions configures the underlying connection pool.
type PoolOptions struct {
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
	IdleInTxTimeout  time.Duration
}

var (
	MySQL    Dialect = mysqlDialect{}
	Postgres Dialect = postgresDialect{}
)

// ParseDialect maps a configuration value to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	}
	return nil, fmt.Errorf("database: unsupported dialect %q", name)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

// Translate is the identity: the source dialect is MySQL's.
func (mysqlDialect) Translate(query string) string { return query }

func (mysqlDialect) open(dsn string, opts PoolOptions) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	// Report matched rather than changed rows so upserts can rely on RowsAffected.
	cfg.ClientFoundRows = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	if opts.StatementTimeout > 0 {
		cfg.ReadTimeout = opts.StatementTimeout
		cfg.WriteTimeout = opts.StatementTimeout
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	applyPool(db, opts)
	return db, nil
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Translate(query string) string { return toPostgres(query) }

func (postgresDialect) open(dsn string, opts PoolOptions) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = make(map[string]string)
	}
	if opts.StatementTimeout > 0 {
		cfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}
	if opts.IdleInTxTimeout > 0 {
		cfg.RuntimeParams["idle_in_transaction_session_timeout"] = strconv.FormatInt(opts.IdleInTxTimeout.Milliseconds(), 10)
	}
	db := stdlib.OpenDB(*cfg)
	applyPool(db, opts)
	return db, nil
}

func applyPool(db *sql.DB, opts PoolOptions) {
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
}
