package cache

import (
	"testing"
	"time"
)

func newTestManager() *Manager {
	cfg := DefaultManagerConfig()
	cfg.CleanupMinInterval = time.Nanosecond
	return NewManager(cfg)
}

func TestManagerQueryCacheRoundTrip(t *testing.T) {
	m := newTestManager()

	sql := "SELECT id, name FROM users WHERE id = ?"
	params := []any{42}

	if _, ok := m.GetCachedQuery(sql, params); ok {
		t.Fatalf("expected miss before any Set")
	}

	m.SetCachedQuery(sql, params, map[string]any{"id": 42, "name": "ada"})

	v, ok := m.GetCachedQuery(sql, params)
	if !ok {
		t.Fatalf("expected hit after Set")
	}
	row, ok := v.(map[string]any)
	if !ok || row["name"] != "ada" {
		t.Fatalf("unexpected cached value: %#v", v)
	}
}

func TestManagerFingerprintStableAcrossWhitespaceAndCase(t *testing.T) {
	m := newTestManager()

	a := "select id from Users where id = ?"
	b := "  SELECT   id FROM   users   WHERE id = ?  "
	params := []any{7}

	m.SetCachedQuery(a, params, "result-a")

	v, ok := m.GetCachedQuery(b, params)
	if !ok {
		t.Fatalf("expected hit from differently-formatted equivalent query")
	}
	if v != "result-a" {
		t.Fatalf("expected result-a, got %v", v)
	}
}

func TestManagerNonCacheableQueryNeverStored(t *testing.T) {
	m := newTestManager()

	sql := "INSERT INTO users (name) VALUES (?)"
	params := []any{"ada"}

	m.SetCachedQuery(sql, params, "should-not-be-cached")

	if _, ok := m.GetCachedQuery(sql, params); ok {
		t.Fatalf("expected mutation queries to never be cacheable")
	}
}

func TestInvalidateCacheDDLClearsAllRegions(t *testing.T) {
	m := newTestManager()

	m.Set(SchemaRegion, "users", map[string]any{"columns": 3})
	m.Set(TableExistsRegion, "users", true)
	m.Set(IndexRegion, "users", []string{"idx_id"})
	m.SetCachedQuery("SELECT * FROM users", nil, "rows")

	m.InvalidateCache(InvalidateDrop, "users")

	if _, ok := m.Get(SchemaRegion, "users"); ok {
		t.Fatalf("expected SCHEMA cleared after DDL invalidation")
	}
	if _, ok := m.Get(TableExistsRegion, "users"); ok {
		t.Fatalf("expected TABLE_EXISTS cleared after DDL invalidation")
	}
	if _, ok := m.Get(IndexRegion, "users"); ok {
		t.Fatalf("expected INDEX cleared after DDL invalidation")
	}
	if _, ok := m.GetCachedQuery("SELECT * FROM users", nil); ok {
		t.Fatalf("expected QUERY_RESULT cleared after DDL invalidation")
	}
}

func TestInvalidateCacheByTableLeavesOtherTablesIntact(t *testing.T) {
	m := newTestManager()

	m.Set(SchemaRegion, "users", "users-schema")
	m.Set(SchemaRegion, "orders", "orders-schema")
	m.SetCachedQuery("SELECT * FROM users", nil, "users-rows")
	m.SetCachedQuery("SELECT * FROM orders", nil, "orders-rows")

	m.InvalidateCache(InvalidateUpdate, "users")

	if _, ok := m.Get(SchemaRegion, "users"); ok {
		t.Fatalf("expected users schema entry invalidated")
	}
	if v, ok := m.Get(SchemaRegion, "orders"); !ok || v != "orders-schema" {
		t.Fatalf("expected orders schema entry untouched, got %v ok=%v", v, ok)
	}

	if _, ok := m.GetCachedQuery("SELECT * FROM users", nil); ok {
		t.Fatalf("expected users query cache entry invalidated")
	}
	if v, ok := m.GetCachedQuery("SELECT * FROM orders", nil); !ok || v != "orders-rows" {
		t.Fatalf("expected orders query cache entry untouched, got %v ok=%v", v, ok)
	}
}

func TestInvalidateCacheNoTableClearsQueryResultOnly(t *testing.T) {
	m := newTestManager()

	m.Set(SchemaRegion, "users", "users-schema")
	m.SetCachedQuery("SELECT * FROM users", nil, "rows")

	m.InvalidateCache(InvalidateInsert, "")

	if v, ok := m.Get(SchemaRegion, "users"); !ok || v != "users-schema" {
		t.Fatalf("expected SCHEMA untouched when no table name is known")
	}
	if _, ok := m.GetCachedQuery("SELECT * FROM users", nil); ok {
		t.Fatalf("expected QUERY_RESULT cleared when no table name is known")
	}
}

func TestCleanupExpiredQueryEntriesRemovesOnlyExpired(t *testing.T) {
	m := newTestManager()

	past := time.Now().Add(-time.Minute)
	m.queryResult.PutWithExpiry("stale", QueryCacheEntry{Data: "old"}, &past)

	future := time.Now().Add(time.Hour)
	m.queryResult.PutWithExpiry("fresh", QueryCacheEntry{Data: "new"}, &future)

	n := m.CleanupExpiredQueryEntries()
	if n != 1 {
		t.Fatalf("expected exactly 1 expired entry removed, got %d", n)
	}
	if _, ok := m.queryResult.Get("stale"); ok {
		t.Fatalf("expected stale entry removed")
	}
	if _, ok := m.queryResult.Get("fresh"); !ok {
		t.Fatalf("expected fresh entry to survive cleanup")
	}
}

func TestOnPressureChangeAdjustsRegionsAboveThreshold(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 10; i++ {
		m.Set(SchemaRegion, string(rune('a'+i)), i)
	}

	m.OnPressureChange(0.9)

	stats := m.GetStats(SchemaRegion)
	if stats.DynamicMaxSize >= stats.MaxSize {
		t.Fatalf("expected dynamic max size shrunk under high pressure, got %d/%d", stats.DynamicMaxSize, stats.MaxSize)
	}
}

func TestOnPressureChangeIgnoresLowPressure(t *testing.T) {
	m := newTestManager()
	m.OnPressureChange(0.2)

	stats := m.GetStats(SchemaRegion)
	if stats.DynamicMaxSize != stats.MaxSize {
		t.Fatalf("expected no shrink under low pressure, got %d/%d", stats.DynamicMaxSize, stats.MaxSize)
	}
}

func TestClearAllUsesFixedRegionOrder(t *testing.T) {
	if len(regionOrder) != 4 {
		t.Fatalf("expected 4 regions in fixed order, got %d", len(regionOrder))
	}
	expected := []Region{SchemaRegion, TableExistsRegion, IndexRegion, QueryResultRegion}
	for i, r := range expected {
		if regionOrder[i] != r {
			t.Fatalf("region order mismatch at %d: got %v want %v", i, regionOrder[i], r)
		}
	}
}
