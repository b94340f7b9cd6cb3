package database

import (
	"context"
	"errors"
	"time"

	"garage.app/internal/obs"
)

// MonitorHealth runs CheckHealth every health interval until ctx is done.
func (a *Adapter) MonitorHealth(ctx context.Context) {
	ticker := time.NewTicker(a.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.CheckHealth(ctx)
		}
	}
}

// CheckHealth runs a trivial query. On failure it marks the adapter
// disconnected and rebuilds the pool; the next successful check logs the
// recovery.
func (a *Adapter) CheckHealth(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if a.TestConnection(hctx) {
		if a.setConnected(true) {
			a.log.Info().Msg("database connection recovered")
		}
		return true
	}

	a.setConnected(false)
	a.log.Warn().Msg("database health check failed, reconnecting")
	if err := a.Reconnect(ctx); err != nil {
		a.log.Error().Err(err).Msg("database reconnect failed")
	}
	return false
}

// Reconnect replaces the pool with a fresh one from the opener and tests it.
func (a *Adapter) Reconnect(ctx context.Context) error {
	if a.opener == nil {
		return errors.New("database: no opener configured")
	}

	a.mu.Lock()
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
	a.mu.Unlock()

	db, err := a.opener(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.db = db
	a.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if !a.TestConnection(tctx) {
		return errors.New("database: connection test failed after reconnect")
	}
	a.log.Info().Msg("database pool reinitialised")
	return nil
}

// setConnected stores v and reports whether it changed.
func (a *Adapter) setConnected(v bool) bool {
	if a.connected.Swap(v) == v {
		return false
	}
	a.notify(v)
	return true
}

func (a *Adapter) notify(v bool) {
	obs.SetDBConnected(a.dialect.Name(), v)
	a.listenersMu.Lock()
	listeners := append([]func(bool){}, a.listeners...)
	a.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}
