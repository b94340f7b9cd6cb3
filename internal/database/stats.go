package database

import (
	"sync"
	"time"
)

// QueryStats summarises query attempts since start or the last reset.
type QueryStats struct {
	Total      int64         `json:"total_queries"`
	Slow       int64         `json:"slow_queries"`
	Failed     int64         `json:"failed_queries"`
	AvgLatency time.Duration `json:"-"`
	AvgMillis  float64       `json:"avg_latency_ms"`
}

// PoolStats is a JSON-friendly view of sql.DBStats.
type PoolStats struct {
	MaxOpen      int           `json:"max_open"`
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration_ns"`
}

// statsCollector folds each attempt in under one lock so concurrent
// callers never lose an update and the average stays exact.
type statsCollector struct {
	mu    sync.Mutex
	stats QueryStats
	sum   time.Duration
}

func (c *statsCollector) record(d time.Duration, failed, slow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Total++
	if failed {
		c.stats.Failed++
	}
	if slow {
		c.stats.Slow++
	}
	c.sum += d
	c.stats.AvgLatency = c.sum / time.Duration(c.stats.Total)
	c.stats.AvgMillis = float64(c.stats.AvgLatency) / float64(time.Millisecond)
}

func (c *statsCollector) snapshot() QueryStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *statsCollector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = QueryStats{}
	c.sum = 0
}
