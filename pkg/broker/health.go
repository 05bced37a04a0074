package broker

import (
	"context"
	"runtime"
	"time"
)

// HealthStatus summarizes the broker's condition.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// degradedLatency is the ping latency above which a reachable Redis
// counts as degraded.
const degradedLatency = 100 * time.Millisecond

// RedisHealth reports the adapter's view of the connection.
type RedisHealth struct {
	Connected bool   `json:"connected"`
	LatencyMs int64  `json:"latencyMs"`
	Breaker   string `json:"breaker"`
	Error     string `json:"error,omitempty"`
}

// MemoryHealth is a runtime snapshot.
type MemoryHealth struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGC           uint32 `json:"numGC"`
	Goroutines      int    `json:"goroutines"`
}

// Health describes the broker at one instant.
type Health struct {
	Status         HealthStatus `json:"status"`
	ResponseTimeMs int64        `json:"responseTimeMs"`
	Redis          RedisHealth  `json:"redis"`
	Cache          CacheStats   `json:"cache"`
	Memory         MemoryHealth `json:"memory"`
}

// Health pings Redis and snapshots the cache and the Go runtime. An
// unreachable Redis is unhealthy; a slow one is degraded.
func (b *Broker) Health(ctx context.Context) (*Health, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	h := &Health{Status: StatusHealthy}

	latency, err := b.store.Ping(ctx)
	h.Redis = RedisHealth{
		Connected: err == nil,
		LatencyMs: latency.Milliseconds(),
		Breaker:   b.store.BreakerState(),
	}
	switch {
	case err != nil:
		h.Redis.Error = err.Error()
		h.Status = StatusUnhealthy
	case latency > degradedLatency:
		h.Status = StatusDegraded
	}

	h.Cache = b.hybrid.Stats()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	h.Memory = MemoryHealth{
		AllocBytes:      ms.Alloc,
		TotalAllocBytes: ms.TotalAlloc,
		SysBytes:        ms.Sys,
		NumGC:           ms.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}

	h.ResponseTimeMs = time.Since(start).Milliseconds()
	return h, nil
}
