package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"garage.app/internal/audit"
	"garage.app/internal/auth"
	"garage.app/internal/config"
	"garage.app/internal/database"
	"garage.app/internal/httpapi"
	"garage.app/internal/obs"
	"garage.app/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	obs.Configure(cfg.LogLevel, cfg.Development())
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit, cfg.DB.Type)
	log := obs.Logger()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("garage-api stopped with error")
	}
	log.Info().Msg("stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialect, err := database.ParseDialect(cfg.DB.Type)
	if err != nil {
		return err
	}
	health := httpapi.NewHealthServer()

	db, err := database.Open(ctx, dialect, cfg.DB.ConnString(),
		database.PoolOptions{
			MaxOpenConns:     cfg.DB.MaxOpenConns,
			MaxIdleConns:     cfg.DB.MaxIdleConns,
			ConnMaxLifetime:  cfg.DB.ConnMaxLifetime,
			StatementTimeout: cfg.DB.StatementTimeout,
			IdleInTxTimeout:  cfg.DB.IdleInTxTimeout,
		},
		database.WithRetries(cfg.DB.Retries),
		database.WithRetryBaseDelay(cfg.DB.RetryBaseDelay),
		database.WithSlowQueryThreshold(cfg.DB.SlowQueryThreshold),
		database.WithHealthInterval(cfg.DB.HealthCheckInterval),
		database.WithStatusListener(health.SetConnected),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store, closeStore, err := openSessionStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	authority, err := auth.NewAuthority(auth.NewSQLDirectory(db), store, cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithSessionTTL(cfg.Auth.SessionTTL),
		auth.WithMaxSessions(cfg.Auth.MaxSessions),
		auth.WithSweepInterval(cfg.Auth.SweepInterval),
	)
	if err != nil {
		return err
	}

	recorder := audit.NewRecorder(audit.WithSink(audit.NewSQLStore(db)))
	api := httpapi.New(authority, db,
		httpapi.WithVersion(cfg.Version),
		httpapi.WithDevelopment(cfg.Development()),
		httpapi.WithAuditRecorder(recorder),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodySize(cfg.MaxBodySize),
	)

	go authority.Run(ctx)
	go db.MonitorHealth(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", cfg.Version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
	}

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcServer.GracefulStop()
	return runErr
}

func openSessionStore(cfg config.Config, db *database.Adapter) (session.Store, func(), error) {
	switch cfg.Sessions.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.RedisAddr,
			Password: cfg.Sessions.RedisPassword,
			DB:       cfg.Sessions.RedisDB,
		})
		store := session.NewRedisStore(rdb, session.WithKeyPrefix(cfg.Sessions.RedisPrefix))
		return store, func() { _ = rdb.Close() }, nil
	case "sql":
		return session.NewSQLStore(db), func() {}, nil
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown session store %q", cfg.Sessions.Store)
}
