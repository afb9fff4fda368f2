package cache

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// RegionConfig sizes one named region's Smart Cache.
type RegionConfig struct {
	MaxSize int
	TTL     time.Duration
	Tiering TierConfig
}

// ManagerConfig configures the Cache Manager and its query-result policy.
type ManagerConfig struct {
	Regions map[Region]RegionConfig

	QueryCacheEnabled  bool
	QueryCacheMaxBytes int // SetCachedQuery refuses results larger than this
	Policy             CacheabilityPolicy

	CleanupMinInterval time.Duration // base interval between cleanup sweeps
	CleanupBatchMin    int
	CleanupBatchMax    int
}

// DefaultManagerConfig returns defaults for region sizes and TTLs: schema,
// table-existence and index regions hold 500 entries for 15 minutes each;
// the query-result region holds 2000 entries for 5 minutes, capped at 1 MiB
// per cached result.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Regions: map[Region]RegionConfig{
			SchemaRegion:      {MaxSize: 500, TTL: 15 * time.Minute},
			TableExistsRegion: {MaxSize: 500, TTL: 15 * time.Minute},
			IndexRegion:       {MaxSize: 500, TTL: 15 * time.Minute},
			QueryResultRegion: {MaxSize: 2000, TTL: 5 * time.Minute},
		},
		QueryCacheEnabled:  true,
		QueryCacheMaxBytes: 1 << 20, // 1 MiB
		Policy:             DefaultCacheabilityPolicy(),
		CleanupMinInterval: time.Minute,
		CleanupBatchMin:    50,
		CleanupBatchMax:    300,
	}
}

// QueryStats tallies query-cache activity by kind, used by monitoring and
// the `security-audit`/`status` tool operations.
type QueryStats struct {
	mu             sync.Mutex
	QueriesByKind  map[QueryKind]int64
	Hits           int64
	Misses         int64
	Skipped        int64 // not cacheable per policy
	Rejected       int64 // cacheable but exceeded QueryCacheMaxBytes
}

// Manager composes named regions, each a SmartCache, and implements the
// query-result cache plus its invalidation policy.
type Manager struct {
	cfg ManagerConfig

	schema      *SmartCache[any]
	tableExists *SmartCache[bool]
	index       *SmartCache[any]
	queryResult *SmartCache[QueryCacheEntry]

	queryStats QueryStats

	lastCleanup   time.Time
	cleanupMu     sync.Mutex
	lastPressure  float64
	pressureMu    sync.Mutex
}

// NewManager constructs a Manager with one SmartCache per region.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Regions == nil {
		cfg = DefaultManagerConfig()
	}
	mk := func(r Region) RegionConfig {
		if rc, ok := cfg.Regions[r]; ok {
			return rc
		}
		return RegionConfig{MaxSize: 500, TTL: 15 * time.Minute}
	}

	m := &Manager{cfg: cfg, lastCleanup: time.Now()}
	m.schema = New[any](Config{Name: "schema", MaxSize: mk(SchemaRegion).MaxSize, TTL: mk(SchemaRegion).TTL, Tiering: mk(SchemaRegion).Tiering})
	m.tableExists = New[bool](Config{Name: "table_exists", MaxSize: mk(TableExistsRegion).MaxSize, TTL: mk(TableExistsRegion).TTL, Tiering: mk(TableExistsRegion).Tiering})
	m.index = New[any](Config{Name: "index", MaxSize: mk(IndexRegion).MaxSize, TTL: mk(IndexRegion).TTL, Tiering: mk(IndexRegion).Tiering})
	m.queryResult = New[QueryCacheEntry](Config{Name: "query_result", MaxSize: mk(QueryResultRegion).MaxSize, TTL: mk(QueryResultRegion).TTL, Tiering: mk(QueryResultRegion).Tiering})

	m.queryStats.QueriesByKind = make(map[QueryKind]int64)

	log.Printf("[cache] manager initialized: regions=%d queryCacheEnabled=%v", len(cfg.Regions), cfg.QueryCacheEnabled)
	return m
}

// Because Go generics can't express a map of differently-typed
// SmartCaches, region dispatch for the untyped Get/Set/Remove/Has surface
// below goes through the `any`-valued schema/index caches and the
// bool-valued table-exists cache explicitly.

// Get retrieves a cached value from region by key.
func (m *Manager) Get(region Region, key string) (any, bool) {
	switch region {
	case SchemaRegion:
		return m.schema.Get(key)
	case IndexRegion:
		return m.index.Get(key)
	case TableExistsRegion:
		v, ok := m.tableExists.Get(key)
		return v, ok
	default:
		return nil, false
	}
}

// Set stores value in region under key.
func (m *Manager) Set(region Region, key string, value any) {
	switch region {
	case SchemaRegion:
		m.schema.Put(key, value)
	case IndexRegion:
		m.index.Put(key, value)
	case TableExistsRegion:
		if b, ok := value.(bool); ok {
			m.tableExists.Put(key, b)
		}
	}
}

// Has reports whether region contains a live entry for key. It goes
// through Get, so a hit moves the entry to the youngest position and is
// counted as a hit in the region's stats.
func (m *Manager) Has(region Region, key string) bool {
	_, ok := m.Get(region, key)
	return ok
}

// Remove deletes key from region.
func (m *Manager) Remove(region Region, key string) {
	switch region {
	case SchemaRegion:
		m.schema.Remove(key)
	case IndexRegion:
		m.index.Remove(key)
	case TableExistsRegion:
		m.tableExists.Remove(key)
	case QueryResultRegion:
		m.queryResult.Remove(key)
	}
}

// ClearRegion empties one region.
func (m *Manager) ClearRegion(region Region) {
	switch region {
	case SchemaRegion:
		m.schema.Clear()
	case TableExistsRegion:
		m.tableExists.Clear()
	case IndexRegion:
		m.index.Clear()
	case QueryResultRegion:
		m.queryResult.Clear()
	}
}

// ClearAll empties every region, in the fixed order SCHEMA -> TABLE_EXISTS
// -> INDEX -> QUERY_RESULT. Because each SmartCache guards only its own
// state, "fixed order" here means we simply clear them in that sequence; no
// cross-region lock is ever held.
func (m *Manager) ClearAll() {
	for _, r := range regionOrder {
		m.ClearRegion(r)
	}
}

// GetBatch retrieves multiple keys from one region.
func (m *Manager) GetBatch(region Region, keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m.Get(region, k); ok {
			out[k] = v
		}
	}
	return out
}

// SetBatch stores multiple key/value pairs into one region.
func (m *Manager) SetBatch(region Region, values map[string]any) {
	for k, v := range values {
		m.Set(region, k, v)
	}
}

// GetStats returns the Smart Cache stats for one region.
func (m *Manager) GetStats(region Region) Stats {
	switch region {
	case SchemaRegion:
		return m.schema.Stats()
	case TableExistsRegion:
		return m.tableExists.Stats()
	case IndexRegion:
		return m.index.Stats()
	case QueryResultRegion:
		return m.queryResult.Stats()
	default:
		return Stats{}
	}
}

// GetAllStats returns every region's stats keyed by region.
func (m *Manager) GetAllStats() map[Region]Stats {
	out := make(map[Region]Stats, len(regionOrder))
	for _, r := range regionOrder {
		out[r] = m.GetStats(r)
	}
	return out
}

// GetCachedQuery looks up a cached result for sql+params, inferring the
// query kind, checking the cacheability policy, and updating access
// metadata on a hit.
func (m *Manager) GetCachedQuery(sql string, params []any) (any, bool) {
	kind := InferQueryKind(sql)
	m.tallyKind(kind)

	if !m.cfg.QueryCacheEnabled {
		return nil, false
	}
	if !m.cfg.Policy.Cacheable(sql, kind) {
		m.queryStats.mu.Lock()
		m.queryStats.Skipped++
		m.queryStats.mu.Unlock()
		return nil, false
	}

	key := Fingerprint(sql, params)
	entry, ok := m.queryResult.Get(key)
	if !ok {
		m.queryStats.mu.Lock()
		m.queryStats.Misses++
		m.queryStats.mu.Unlock()
		return nil, false
	}
	if !time.Now().Before(entry.ExpiresAt) {
		m.queryResult.Remove(key)
		m.queryStats.mu.Lock()
		m.queryStats.Misses++
		m.queryStats.mu.Unlock()
		return nil, false
	}

	entry.Metadata.LastAccessed = time.Now()
	entry.Metadata.AccessCount++
	expiresAt := entry.ExpiresAt
	m.queryResult.PutWithExpiry(key, entry, &expiresAt)

	m.queryStats.mu.Lock()
	m.queryStats.Hits++
	m.queryStats.mu.Unlock()
	return entry.Data, true
}

// SetCachedQuery stores result under sql+params' fingerprint, subject to
// the cacheability policy and the configured maximum result size.
func (m *Manager) SetCachedQuery(sql string, params []any, result any) {
	kind := InferQueryKind(sql)
	if !m.cfg.QueryCacheEnabled || !m.cfg.Policy.Cacheable(sql, kind) {
		return
	}

	size := estimateSize(result)
	if m.cfg.QueryCacheMaxBytes > 0 && size > m.cfg.QueryCacheMaxBytes {
		m.queryStats.mu.Lock()
		m.queryStats.Rejected++
		m.queryStats.mu.Unlock()
		return
	}

	ttl := m.cfg.Policy.TTLFor(kind)
	now := time.Now()
	entry := QueryCacheEntry{
		Data: result,
		Metadata: QueryMetadata{
			Kind:         kind,
			Tables:       ExtractTables(sql),
			Complexity:   complexityScore(sql),
			SizeEstimate: size,
			CreatedAt:    now,
			LastAccessed: now,
			AccessCount:  1,
		},
		ExpiresAt: now.Add(ttl),
	}
	key := Fingerprint(sql, params)
	expiresAt := entry.ExpiresAt
	m.queryResult.PutWithExpiry(key, entry, &expiresAt)
}

func (m *Manager) tallyKind(kind QueryKind) {
	m.queryStats.mu.Lock()
	m.queryStats.QueriesByKind[kind]++
	m.queryStats.mu.Unlock()
}

// QueryStatsSnapshot returns a copy of the accumulated query-cache stats.
func (m *Manager) QueryStatsSnapshot() QueryStats {
	m.queryStats.mu.Lock()
	defer m.queryStats.mu.Unlock()
	byKind := make(map[QueryKind]int64, len(m.queryStats.QueriesByKind))
	for k, v := range m.queryStats.QueriesByKind {
		byKind[k] = v
	}
	return QueryStats{
		QueriesByKind: byKind,
		Hits:          m.queryStats.Hits,
		Misses:        m.queryStats.Misses,
		Skipped:       m.queryStats.Skipped,
		Rejected:      m.queryStats.Rejected,
	}
}

func estimateSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
