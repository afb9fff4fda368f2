package cache

import (
	"log"
	"math"
	"strings"
	"time"
)

// InvalidateCache applies the invalidation policy for a write of the given
// kind against table. table is optional; an empty string means "no table
// name available".
func (m *Manager) InvalidateCache(kind InvalidationKind, table string) {
	table = strings.ToLower(table)

	switch kind {
	case InvalidateCreate, InvalidateDrop, InvalidateDDL:
		m.ClearAll()
		return

	case InvalidateAlter:
		if table == "" {
			m.ClearRegion(QueryResultRegion)
			return
		}
		m.Remove(SchemaRegion, table)
		m.Remove(IndexRegion, table)
		m.InvalidateQueryCacheByTable(table)
		return

	case InvalidateInsert, InvalidateUpdate, InvalidateDelete, InvalidateDML:
		if table == "" {
			m.ClearRegion(QueryResultRegion)
			return
		}
		m.Remove(SchemaRegion, table)
		m.Remove(TableExistsRegion, table)
		m.Remove(IndexRegion, table)
		m.InvalidateQueryCacheByTable(table)
		return
	}
}

// InvalidateQueryCacheByTable scans QUERY_RESULT and deletes every entry
// whose metadata lists table. On scan-or-delete failure it falls back to
// clearing the whole region. A plain scan over an in-process map cannot
// itself fail, but the fallback path is kept so the contract holds if
// ScanEntries is ever backed by something that can.
func (m *Manager) InvalidateQueryCacheByTable(table string) {
	table = strings.ToLower(table)

	var toDelete []string
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[cache] scan failed during table invalidation, clearing QUERY_RESULT: %v", r)
				toDelete = nil
				m.queryResult.Clear()
			}
		}()
		m.queryResult.ScanEntries(func(key string, e *Entry[QueryCacheEntry]) bool {
			for _, t := range e.Value.Metadata.Tables {
				if t == table {
					toDelete = append(toDelete, key)
					break
				}
			}
			return true
		})
	}()

	for _, key := range toDelete {
		m.queryResult.Remove(key)
	}
}

// CleanupExpiredQueryEntries runs an opportunistic expiry sweep of
// QUERY_RESULT, rate-limited by a minimum interval that shrinks under
// pressure (down to 10% of the base interval).
func (m *Manager) CleanupExpiredQueryEntries() int {
	m.cleanupMu.Lock()
	base := m.cfg.CleanupMinInterval
	if base <= 0 {
		base = time.Minute
	}
	p := m.currentPressure()
	interval := time.Duration(float64(base) * math.Max(0.1, 1-p))
	if time.Since(m.lastCleanup) < interval {
		m.cleanupMu.Unlock()
		return 0
	}
	m.lastCleanup = time.Now()
	m.cleanupMu.Unlock()

	batchSize := m.cfg.CleanupBatchMin + int(float64(m.cfg.CleanupBatchMax-m.cfg.CleanupBatchMin)*p)
	if batchSize <= 0 {
		batchSize = 50
	}

	now := time.Now()
	var expired []string
	m.queryResult.ScanEntries(func(key string, e *Entry[QueryCacheEntry]) bool {
		// ScanEntries holds the region's lock, so its ttl is read directly.
		if e.expired(now, m.queryResult.ttl) {
			expired = append(expired, key)
		}
		return len(expired) < batchSize
	})

	for _, key := range expired {
		m.queryResult.Remove(key)
	}
	return len(expired)
}

// AdjustForMemoryPressure forwards p to every region.
func (m *Manager) AdjustForMemoryPressure(p float64) {
	m.schema.AdjustForMemoryPressure(p)
	m.tableExists.AdjustForMemoryPressure(p)
	m.index.AdjustForMemoryPressure(p)
	m.queryResult.AdjustForMemoryPressure(p)
}

// OnPressureChange is the Memory Pressure Bus observer callback:
// it caches the pressure value and, above 0.8, adjusts every region.
func (m *Manager) OnPressureChange(p float64) {
	m.pressureMu.Lock()
	m.lastPressure = p
	m.pressureMu.Unlock()

	if p > 0.8 {
		m.AdjustForMemoryPressure(p)
	}
}

func (m *Manager) currentPressure() float64 {
	m.pressureMu.Lock()
	defer m.pressureMu.Unlock()
	return m.lastPressure
}

// PerformWeakMapCleanup forwards the weak-reference sweep to every region
// that has weak-reference tracking enabled, returning the total reclaimed.
func (m *Manager) PerformWeakMapCleanup() int {
	return m.schema.PerformWeakMapCleanup() +
		m.index.PerformWeakMapCleanup() +
		m.tableExists.PerformWeakMapCleanup() +
		m.queryResult.PerformWeakMapCleanup()
}
