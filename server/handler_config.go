package server

import (
	"time"

	"github.com/lordbasex/dbopscore/cache"
	"github.com/lordbasex/dbopscore/pressure"
	"github.com/lordbasex/dbopscore/taskengine"
)

// CacheStats summarizes Cache Manager activity in the shape the monitoring
// loop and the "status"/"getCacheStats" functions expect.
type CacheStats struct {
	TotalRequests int64
	Hits          int64
	Misses        int64
	CurrentSize   int
	Evictions     int64
	Expirations   int64
	LastCleanup   time.Time
}

// SetCacheConfig installs a Cache Manager built from cfg, replacing any
// manager previously attached to the handler.
func (h *Handler) SetCacheConfig(cfg cache.ManagerConfig) {
	h.cacheManager = cache.NewManager(cfg)
}

// GetCacheStats aggregates the query-result region's Smart Cache stats with
// the Cache Manager's hit/miss tally.
func (h *Handler) GetCacheStats() CacheStats {
	if h.cacheManager == nil {
		return CacheStats{}
	}
	qs := h.cacheManager.QueryStatsSnapshot()
	region := h.cacheManager.GetStats(cache.QueryResultRegion)
	return CacheStats{
		TotalRequests: qs.Hits + qs.Misses,
		Hits:          qs.Hits,
		Misses:        qs.Misses,
		CurrentSize:   region.CurrentSize,
		Evictions:     region.Evictions,
		Expirations:   region.Expirations,
		LastCleanup:   time.Now(),
	}
}

// ClearCache drops every cached entry across all regions.
func (h *Handler) ClearCache() {
	if h.cacheManager != nil {
		h.cacheManager.ClearAll()
	}
}

// SetSQLValidationConfig installs an SQL validator built from cfg.
func (h *Handler) SetSQLValidationConfig(cfg SQLValidationConfig) {
	h.sqlValidator = NewSQLValidator(cfg)
}

// GetSQLValidationStats reports cumulative validation activity.
func (h *Handler) GetSQLValidationStats() ValidationStats {
	if h.sqlValidator == nil {
		return ValidationStats{}
	}
	return h.sqlValidator.GetStats()
}

// SetWorkerPoolConfig replaces the handler's worker pool with one built
// from cfg. Call before Start; the previous pool, if running, is left
// untouched since nothing references it once replaced.
func (h *Handler) SetWorkerPoolConfig(cfg *WorkerPoolConfig) {
	h.workerPool = NewWorkerPool(h, cfg)
}

// GetWorkerPoolStats reports current worker pool utilization.
func (h *Handler) GetWorkerPoolStats() WorkerPoolStats {
	if h.workerPool == nil {
		return WorkerPoolStats{}
	}
	return h.workerPool.GetStats()
}

// SetRateLimiterConfig replaces the handler's rate limiter with one built
// from cfg, stopping the limiter it replaces.
func (h *Handler) SetRateLimiterConfig(cfg *RateLimiterConfig) {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
	h.rateLimiter = NewRateLimiter(cfg)
}

// GetRateLimiterStats reports current rate limiter bucket counts.
func (h *Handler) GetRateLimiterStats() RateLimiterStats {
	if h.rateLimiter == nil {
		return RateLimiterStats{}
	}
	return h.rateLimiter.GetStats()
}

// SetTaskEngineConfig installs a task engine wired to the handler's
// pressure bus, so submitted tasks see the current memory pressure when
// the scheduler decides how many can run concurrently.
func (h *Handler) SetTaskEngineConfig(cfg taskengine.Config) {
	pressureFn := func() float64 { return 0 }
	if h.pressureBus != nil {
		pressureFn = h.pressureBus.GetCurrentPressure
	}
	h.taskEngine = taskengine.NewEngine(cfg, pressureFn)
	h.trackerRegistry = taskengine.NewTrackerRegistry(h.taskEngine.Events())
	h.taskEngine.SetTrackerRegistry(h.trackerRegistry)

	// Bridge the pressure bus onto the task engine's own event stream, so a
	// subscriber watching task-engine events (the AMQP sink, a dashboard)
	// sees memory-pressure/memory-critical without also wiring the pressure
	// bus directly.
	if h.pressureBus != nil {
		events := h.taskEngine.Events()
		gcThreshold := h.pressureBus.Config().GCThreshold
		h.pressureBus.Subscribe(pressure.ObserverFunc(func(p float64) {
			kind := taskengine.EventMemoryPressure
			if gcThreshold > 0 && p > gcThreshold {
				kind = taskengine.EventMemoryCritical
			}
			events.Publish(taskengine.Event{Kind: kind, PressureLevel: p})
		}))
	}
}

// SetPressureConfig installs a memory pressure bus and subscribes the
// Cache Manager, if one is attached, to pressure-driven eviction.
func (h *Handler) SetPressureConfig(cfg pressure.Config) {
	h.pressureBus = pressure.NewBus(cfg)
	if h.cacheManager != nil {
		h.pressureBus.Subscribe(pressure.ObserverFunc(h.cacheManager.OnPressureChange))
	}
}
