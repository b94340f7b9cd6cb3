// Package config loads runtime settings from GARAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all configuration for the API process.
type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string
	LogLevel string
	Version  string
	Commit   string

	DB       DB
	Auth     Auth
	Sessions Sessions

	RateBurst   int
	RatePerSec  int
	MaxBodySize int64

	MigrationsDir string
}

// DB configures the dialect adapter and its pool.
type DB struct {
	Type     string // mysql or postgres
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	StatementTimeout    time.Duration
	IdleInTxTimeout     time.Duration
	SlowQueryThreshold  time.Duration
	Retries             int
	RetryBaseDelay      time.Duration
	HealthCheckInterval time.Duration
}

// Auth configures token issuance and session limits.
type Auth struct {
	JWTSecret     string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	SessionTTL    time.Duration
	MaxSessions   int
	SweepInterval time.Duration
}

// Sessions selects the session store backend.
type Sessions struct {
	Store         string // memory, redis or sql
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Development reports whether detailed errors may be shown to clients.
func (c Config) Development() bool { return c.Env == EnvDevelopment }

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	var (
		cfg  Config
		errs []error
	)
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return v
	}
	durVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getEnvDuration(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return v
	}

	cfg.Env = strings.ToLower(getEnv("GARAGE_ENV", EnvProduction))
	cfg.HTTPAddr = getEnv("GARAGE_HTTP_ADDR", ":8080")
	cfg.GRPCAddr = getEnv("GARAGE_GRPC_ADDR", ":9090")
	cfg.LogLevel = getEnv("GARAGE_LOG_LEVEL", "info")
	cfg.Version = getEnv("GARAGE_VERSION", "dev")
	cfg.Commit = getEnv("GARAGE_COMMIT", "unknown")
	cfg.RateBurst = intVar("GARAGE_RATE_BURST", 40)
	cfg.RatePerSec = intVar("GARAGE_RATE_PER_SEC", 20)
	cfg.MaxBodySize = int64(intVar("GARAGE_MAX_BODY_BYTES", 1<<20))
	cfg.MigrationsDir = getEnv("GARAGE_MIGRATIONS_DIR", "")

	cfg.DB = DB{
		Type:                strings.ToLower(getEnv("GARAGE_DB_TYPE", "mysql")),
		DSN:                 getEnv("GARAGE_DB_DSN", ""),
		Host:                getEnv("GARAGE_DB_HOST", "localhost"),
		Port:                intVar("GARAGE_DB_PORT", 0),
		User:                getEnv("GARAGE_DB_USER", "garage"),
		Password:            getEnv("GARAGE_DB_PASSWORD", ""),
		Name:                getEnv("GARAGE_DB_NAME", "garage"),
		MaxOpenConns:        intVar("GARAGE_DB_MAX_OPEN", 10),
		MaxIdleConns:        intVar("GARAGE_DB_MAX_IDLE", 10),
		ConnMaxLifetime:     durVar("GARAGE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		StatementTimeout:    durVar("GARAGE_DB_STATEMENT_TIMEOUT", 30*time.Second),
		IdleInTxTimeout:     durVar("GARAGE_DB_IDLE_IN_TX_TIMEOUT", 60*time.Second),
		SlowQueryThreshold:  durVar("GARAGE_DB_SLOW_QUERY_THRESHOLD", time.Second),
		Retries:             intVar("GARAGE_DB_RETRIES", 3),
		RetryBaseDelay:      durVar("GARAGE_DB_RETRY_BASE_DELAY", 100*time.Millisecond),
		HealthCheckInterval: durVar("GARAGE_DB_HEALTH_INTERVAL", 30*time.Second),
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = defaultPort(cfg.DB.Type)
	}

	cfg.Auth = Auth{
		JWTSecret:     getEnv("GARAGE_JWT_SECRET", ""),
		Issuer:        getEnv("GARAGE_JWT_ISSUER", "garage-api"),
		Audience:      getEnv("GARAGE_JWT_AUDIENCE", "garage-clients"),
		AccessTTL:     durVar("GARAGE_ACCESS_TTL", time.Hour),
		SessionTTL:    durVar("GARAGE_SESSION_TTL", 7*24*time.Hour),
		MaxSessions:   intVar("GARAGE_MAX_SESSIONS", 5),
		SweepInterval: durVar("GARAGE_SESSION_SWEEP_INTERVAL", 10*time.Minute),
	}

	cfg.Sessions = Sessions{
		Store:         strings.ToLower(getEnv("GARAGE_SESSION_STORE", "memory")),
		RedisAddr:     getEnv("GARAGE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("GARAGE_REDIS_PASSWORD", ""),
		RedisDB:       intVar("GARAGE_REDIS_DB", 0),
		RedisPrefix:   getEnv("GARAGE_REDIS_PREFIX", "garage:"),
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("GARAGE_ENV must be %q or %q", EnvDevelopment, EnvProduction))
	}
	switch c.DB.Type {
	case "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("GARAGE_DB_TYPE %q is not supported", c.DB.Type))
	}
	switch c.Sessions.Store {
	case "memory", "redis", "sql":
	default:
		errs = append(errs, fmt.Errorf("GARAGE_SESSION_STORE %q is not supported", c.Sessions.Store))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("GARAGE_JWT_SECRET is required"))
	} else if c.Env == EnvProduction && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("GARAGE_JWT_SECRET must be at least 32 bytes in production"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Auth.MaxSessions < 1 {
		errs = append(errs, errors.New("GARAGE_MAX_SESSIONS must be at least 1"))
	}
	if c.DB.Retries < 1 {
		errs = append(errs, errors.New("GARAGE_DB_RETRIES must be at least 1"))
	}
	return errors.Join(errs...)
}

// ConnString returns the configured DSN, building one from parts when unset.
func (d DB) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Type {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:   "/" + d.Name,
		}
		q := u.Query()
		q.Set("sslmode", "disable")
		u.RawQuery = q.Encode()
		return u.String()
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", d.User, d.Password, d.Host, d.Port, d.Name)
	}
}

func defaultPort(dbType string) int {
	if dbType == "postgres" {
		return 5432
	}
	return 3306
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return fallback, nil
	}
	return strconv.Atoi(strings.TrimSpace(val))
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(val))
}
