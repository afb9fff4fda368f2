package cache

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// TierConfig enables L1/L2 tiering: entries evicted from L1 are demoted
// into an L2 store with its own size and TTL instead of being dropped.
type TierConfig struct {
	Enabled bool
	L2Size  int
	L2TTL   time.Duration
}

// AdaptiveTTLConfig enables cache-wide TTL adjustment based on observed
// access rate: a hot cache gets a longer TTL, a cold one gets a shorter
// one. The adjustment applies to the cache instance, not to individual
// entries.
type AdaptiveTTLConfig struct {
	Enabled bool
	MinTTL  time.Duration
	MaxTTL  time.Duration
	Factor  float64 // multiplicative step applied per qualifying hit
}

// PrefetchConfig enables best-effort background refresh of hot keys when
// the aggregate hit rate falls below Threshold after MinSamples accesses.
type PrefetchConfig struct {
	Enabled    bool
	Threshold  float64 // trigger prefetch when hit rate falls below this
	MinSamples int64   // minimum sampled accesses before the trigger engages
	MaxKeys    int      // at most this many keys prefetched per storm
	ShareMin   float64 // a key must hold at least this share of access counts
}

// Config configures a new SmartCache.
type Config struct {
	MaxSize     int
	TTL         time.Duration
	Tiering     TierConfig
	AdaptiveTTL AdaptiveTTLConfig
	Prefetch    PrefetchConfig
	WeakRefs    bool
	Name        string // used only for log prefixes
}

// DefaultConfig returns sane defaults for general-purpose use.
func DefaultConfig() Config {
	return Config{
		MaxSize: 1000,
		TTL:     15 * time.Minute,
		Prefetch: PrefetchConfig{
			MinSamples: 100,
			Threshold:  0.3,
			MaxKeys:    5,
			ShareMin:   0.05,
		},
	}
}

// Stats reports cumulative Smart Cache statistics. Safe to copy.
type Stats struct {
	Hits              int64
	Misses            int64
	Evictions         int64
	Expirations       int64
	L2Promotions      int64
	L2Demotions       int64
	PrefetchAttempts  int64
	WeakRefsReclaimed int64
	CurrentSize       int
	DynamicMaxSize    int
	MaxSize           int
	CurrentTTL        time.Duration
}

// Loader fetches a fresh value for key, used only by the prefetch routine.
type Loader[T any] func(ctx context.Context, key string) (T, error)

// SmartCache is a bounded, TTL-bearing, LRU-ordered store. All mutating
// operations serialize under a single mutex per instance (one critical
// section per cache, never per key).
type SmartCache[T any] struct {
	mu sync.Mutex

	items map[string]*Entry[T]
	head  *Entry[T] // youngest
	tail  *Entry[T] // oldest

	size           int
	maxSize        int
	dynamicMaxSize int
	ttl            time.Duration

	tierCfg TierConfig
	l2      *tierStore[T]

	adaptive AdaptiveTTLConfig
	created  time.Time

	prefetchCfg    PrefetchConfig
	loader         Loader[T]
	totalAccesses  int64
	windowHits     int64
	windowRequests int64

	weakRefs *weakRegistry

	stats Stats
	name  string
}

// New creates a SmartCache with the given configuration.
func New[T any](cfg Config) *SmartCache[T] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	now := time.Now()
	sc := &SmartCache[T]{
		items:          make(map[string]*Entry[T]),
		maxSize:        cfg.MaxSize,
		dynamicMaxSize: cfg.MaxSize,
		ttl:            cfg.TTL,
		tierCfg:        cfg.Tiering,
		adaptive:       cfg.AdaptiveTTL,
		prefetchCfg:    cfg.Prefetch,
		created:        now,
		name:           cfg.Name,
	}
	if cfg.Tiering.Enabled {
		l2ttl := cfg.Tiering.L2TTL
		if l2ttl <= 0 {
			l2ttl = cfg.TTL
		}
		sc.l2 = newTierStore[T](cfg.Tiering.L2Size, l2ttl)
	}
	if cfg.WeakRefs {
		sc.weakRefs = newWeakRegistry()
	}
	if sc.prefetchCfg.MinSamples <= 0 {
		sc.prefetchCfg.MinSamples = 100
	}
	return sc
}

// SetLoader registers the loader used by the best-effort prefetch routine.
// A nil loader disables prefetching even if PrefetchConfig.Enabled is true.
func (sc *SmartCache[T]) SetLoader(loader Loader[T]) {
	sc.mu.Lock()
	sc.loader = loader
	sc.mu.Unlock()
}

// Get looks up key, promoting an L2 hit to L1 and refreshing recency on an
// L1 hit. Returns the zero value and false on a miss or an expired entry.
func (sc *SmartCache[T]) Get(key string) (T, bool) {
	sc.mu.Lock()
	now := time.Now()

	if e, ok := sc.items[key]; ok {
		if e.expired(now, sc.ttl) {
			sc.removeLocked(key)
			sc.stats.Expirations++
			sc.recordMissLocked()
			sc.mu.Unlock()
			var zero T
			return zero, false
		}
		sc.touchLocked(e, now)
		sc.stats.Hits++
		v := e.Value
		sc.maybeTriggerPrefetchLocked()
		sc.mu.Unlock()
		return v, true
	}

	if sc.l2 != nil {
		if e, ok := sc.l2.get(key); ok {
			if e.expired(now, sc.l2.ttl) {
				sc.l2.remove(key)
				sc.stats.Expirations++
				sc.recordMissLocked()
				sc.mu.Unlock()
				var zero T
				return zero, false
			}
			// Promote to L1.
			sc.l2.remove(key)
			sc.promoteLocked(e, now)
			sc.stats.Hits++
			sc.stats.L2Promotions++
			v := e.Value
			sc.maybeTriggerPrefetchLocked()
			sc.mu.Unlock()
			return v, true
		}
	}

	sc.recordMissLocked()
	sc.maybeTriggerPrefetchLocked()
	sc.mu.Unlock()
	var zero T
	return zero, false
}

// GetWithKeyObject behaves like Get but, when weak-reference tracking is
// enabled, additionally registers keyObj so that the entry's eligibility
// for weak-map cleanup can be observed once keyObj is unreachable.
func (sc *SmartCache[T]) GetWithKeyObject(key string, keyObj any) (T, bool) {
	v, ok := sc.Get(key)
	if ok && sc.weakRefs != nil {
		sc.weakRefs.track(key, keyObj)
	}
	return v, ok
}

func (sc *SmartCache[T]) recordMissLocked() {
	sc.stats.Misses++
	sc.totalAccesses++
	sc.windowRequests++
}

// Put stores value under key, refreshing it if already present and
// evicting the oldest entry first if the cache is at capacity.
func (sc *SmartCache[T]) Put(key string, value T) {
	sc.PutWithExpiry(key, value, nil)
}

// PutWithExpiry stores value under key with an explicit absolute deadline,
// used by query-result entries that carry a per-kind TTL policy instead of
// the cache-wide TTL.
func (sc *SmartCache[T]) PutWithExpiry(key string, value T, expiresAt *time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := time.Now()
	if existing, ok := sc.items[key]; ok {
		existing.Value = value
		existing.CreatedAt = now
		existing.LastAccessed = now
		existing.AccessCount = 0
		existing.ExpiresAt = expiresAt
		sc.moveToFrontLocked(existing)
		return
	}

	effectiveLimit := sc.effectiveL1LimitLocked()
	if sc.size >= effectiveLimit {
		sc.evictOldestLocked()
	}

	e := newEntry(key, value, now)
	e.ExpiresAt = expiresAt
	sc.items[key] = e
	sc.addFrontLocked(e)
}

// effectiveL1LimitLocked is L1's admission cap: the pressure-adjusted
// dynamic max size. L2 sizing (when tiering is enabled) is independent and
// governed entirely by TierConfig.L2Size.
func (sc *SmartCache[T]) effectiveL1LimitLocked() int {
	return sc.dynamicMaxSize
}

func (sc *SmartCache[T]) addFrontLocked(e *Entry[T]) {
	e.prev, e.next = nil, sc.head
	if sc.head != nil {
		sc.head.prev = e
	}
	sc.head = e
	if sc.tail == nil {
		sc.tail = e
	}
	sc.size++
}

func (sc *SmartCache[T]) detachLocked(e *Entry[T]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		sc.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		sc.tail = e.prev
	}
	e.prev, e.next = nil, nil
	sc.size--
}

func (sc *SmartCache[T]) moveToFrontLocked(e *Entry[T]) {
	if sc.head == e {
		return
	}
	sc.detachLocked(e)
	sc.addFrontLocked(e)
}

func (sc *SmartCache[T]) touchLocked(e *Entry[T], now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
	sc.moveToFrontLocked(e)
	sc.windowHits++
	sc.windowRequests++
	sc.totalAccesses++
	sc.maybeAdjustTTLLocked(e, now)
}

func (sc *SmartCache[T]) promoteLocked(e *Entry[T], now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
	e.prev, e.next = nil, nil
	sc.items[e.key] = e
	if sc.size >= sc.effectiveL1LimitLocked() {
		sc.evictOldestLocked()
	}
	sc.addFrontLocked(e)
	sc.windowHits++
	sc.windowRequests++
	sc.totalAccesses++
}

// evictOldestLocked evicts the tail of the recency list, demoting it to L2
// if tiering is enabled.
func (sc *SmartCache[T]) evictOldestLocked() {
	victim := sc.tail
	if victim == nil {
		return
	}
	delete(sc.items, victim.key)
	sc.detachLocked(victim)
	sc.stats.Evictions++

	if sc.l2 != nil {
		victim.prev, victim.next = nil, nil
		sc.l2.put(victim) // L2 overflow silently drops its own oldest entry
		sc.stats.L2Demotions++
	}
}

// removeLocked deletes key from L1 (and, if present, L2) unconditionally.
func (sc *SmartCache[T]) removeLocked(key string) {
	if e, ok := sc.items[key]; ok {
		delete(sc.items, key)
		sc.detachLocked(e)
	}
	if sc.l2 != nil {
		sc.l2.remove(key)
	}
}

// Remove deletes key from the cache, if present.
func (sc *SmartCache[T]) Remove(key string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.removeLocked(key)
}

// Clear empties the cache (L1 and L2) but preserves accumulated stats.
func (sc *SmartCache[T]) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.items = make(map[string]*Entry[T])
	sc.head, sc.tail = nil, nil
	sc.size = 0
	if sc.l2 != nil {
		sc.l2.clear()
	}
}

// Size returns the current number of L1 entries.
func (sc *SmartCache[T]) Size() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.size
}

// Stats returns a snapshot of cumulative statistics.
func (sc *SmartCache[T]) Stats() Stats {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	s := sc.stats
	s.CurrentSize = sc.size
	s.DynamicMaxSize = sc.dynamicMaxSize
	s.MaxSize = sc.maxSize
	s.CurrentTTL = sc.ttl
	if sc.weakRefs != nil {
		s.WeakRefsReclaimed = sc.weakRefs.reclaimedCount()
	}
	return s
}

// IsEntryExpired reports whether e is expired as of now.
func (sc *SmartCache[T]) IsEntryExpired(e *Entry[T], now time.Time) bool {
	sc.mu.Lock()
	ttl := sc.ttl
	sc.mu.Unlock()
	return e.expired(now, ttl)
}

// ScanEntries walks (key, entry) pairs in oldest-to-newest order via a
// lazy callback. The callback runs under the cache's lock; callers must
// not call back into the same SmartCache from within yield.
func (sc *SmartCache[T]) ScanEntries(yield func(string, *Entry[T]) bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for e := sc.tail; e != nil; e = e.prev {
		if !yield(e.key, e) {
			return
		}
	}
}

// AdjustForMemoryPressure implements
// dynamic_max_size <- max(1, floor(max_size * max(0.1, 1-p))), evicting the
// oldest entries until size fits within the new cap.
func (sc *SmartCache[T]) AdjustForMemoryPressure(p float64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	factor := math.Max(0.1, 1-p)
	newCap := int(math.Floor(float64(sc.maxSize) * factor))
	if newCap < 1 {
		newCap = 1
	}
	sc.dynamicMaxSize = newCap

	for sc.size > sc.dynamicMaxSize {
		sc.evictOldestLocked()
	}
}

func (sc *SmartCache[T]) maybeAdjustTTLLocked(e *Entry[T], now time.Time) {
	if !sc.adaptive.Enabled {
		return
	}
	elapsed := now.Sub(e.CreatedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := float64(e.AccessCount) / elapsed
	factor := sc.adaptive.Factor
	if factor <= 1 {
		factor = 1.2
	}
	switch {
	case rate > 0.1:
		newTTL := time.Duration(float64(sc.ttl) * factor)
		if sc.adaptive.MaxTTL > 0 && newTTL > sc.adaptive.MaxTTL {
			newTTL = sc.adaptive.MaxTTL
		}
		sc.ttl = newTTL
	case rate < 0.01:
		newTTL := time.Duration(float64(sc.ttl) / factor)
		if sc.adaptive.MinTTL > 0 && newTTL < sc.adaptive.MinTTL {
			newTTL = sc.adaptive.MinTTL
		}
		sc.ttl = newTTL
	}
}

// maybeTriggerPrefetchLocked fires a best-effort, non-blocking prefetch
// pass once the aggregate hit rate falls below threshold after at least
// MinSamples accesses. Failures inside the prefetch goroutine are
// swallowed.
func (sc *SmartCache[T]) maybeTriggerPrefetchLocked() {
	if !sc.prefetchCfg.Enabled || sc.loader == nil {
		return
	}
	if sc.totalAccesses < sc.prefetchCfg.MinSamples {
		return
	}
	if sc.windowRequests == 0 {
		return
	}
	hitRate := float64(sc.windowHits) / float64(sc.windowRequests)
	if hitRate >= sc.prefetchCfg.Threshold {
		return
	}

	candidates := sc.hotKeysLocked()
	if len(candidates) == 0 {
		return
	}
	sc.stats.PrefetchAttempts++
	sc.windowHits, sc.windowRequests = 0, 0

	loader := sc.loader
	go sc.prefetchKeys(loader, candidates)
}

// hotKeysLocked picks up to MaxKeys resident keys whose share of total
// access counts exceeds ShareMin. Must be called with sc.mu held.
func (sc *SmartCache[T]) hotKeysLocked() []string {
	var total int64
	for e := sc.head; e != nil; e = e.next {
		total += e.AccessCount
	}
	if total == 0 {
		return nil
	}
	var keys []string
	for e := sc.head; e != nil; e = e.next {
		if float64(e.AccessCount)/float64(total) >= sc.prefetchCfg.ShareMin {
			keys = append(keys, e.key)
			if len(keys) >= sc.prefetchCfg.MaxKeys {
				break
			}
		}
	}
	return keys
}

func (sc *SmartCache[T]) prefetchKeys(loader Loader[T], keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			v, err := loader(ctx, key)
			if err != nil {
				log.Printf("[cache] %s: prefetch failed for key %s: %v", sc.name, truncateKey(key), err)
				return
			}
			sc.Put(key, v)
		}(key)
	}
	wg.Wait()
}

func truncateKey(key string) string {
	if len(key) <= 16 {
		return key
	}
	return key[:16] + "..."
}

// PerformWeakMapCleanup walks the weak-reference registry (if enabled) and
// removes entries whose key objects have been reclaimed by the runtime.
// It is a no-op when weak-reference tracking is disabled.
func (sc *SmartCache[T]) PerformWeakMapCleanup() int {
	if sc.weakRefs == nil {
		return 0
	}
	return sc.weakRefs.cleanup()
}
