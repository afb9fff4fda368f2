package cache

import (
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
)

// weakRegistry tracks, for each cache key, whether the caller-supplied key
// object is still reachable. It uses runtime.AddCleanup instead of a raw
// weak pointer table: AddCleanup lets the runtime tell us the instant an
// object becomes unreachable, which is strictly more useful here than
// polling a weak.Pointer ourselves.
//
// This mode is only useful for callers that actually hold long-lived key
// objects outside the cache (e.g. a struct keyed by a *Session); most
// callers should just use the plain string-keyed Get/Put and never touch
// this registry. Reclamation is observable only through Stats.WeakRefsReclaimed.
type weakRegistry struct {
	mu        sync.Mutex
	reclaimed map[string]bool
	count     atomic.Int64
}

func newWeakRegistry() *weakRegistry {
	return &weakRegistry{reclaimed: make(map[string]bool)}
}

// track registers keyObj for reclamation tracking under key. keyObj must be
// a non-nil pointer for the cleanup to ever fire; any other value is
// silently ignored, since tracking is best-effort.
func (w *weakRegistry) track(key string, keyObj any) {
	if keyObj == nil {
		return
	}
	v := reflect.ValueOf(keyObj)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	defer func() {
		// AddCleanup panics for pointers it cannot attach a cleanup to
		// (e.g. not heap-allocated); swallow and treat as untracked.
		recover()
	}()
	runtime.AddCleanup((*byte)(v.UnsafePointer()), w.markReclaimed, key)
}

func (w *weakRegistry) markReclaimed(key string) {
	w.mu.Lock()
	w.reclaimed[key] = true
	w.mu.Unlock()
	w.count.Add(1)
}

// cleanup removes bookkeeping for reclaimed keys and returns how many were
// swept this pass. The caller (SmartCache) does not remove the
// corresponding cache entry automatically — reclamation only means the
// caller's key object is gone, the value may still be legitimately cached
// by its string key alone.
func (w *weakRegistry) cleanup() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.reclaimed)
	w.reclaimed = make(map[string]bool)
	return n
}

func (w *weakRegistry) reclaimedCount() int64 {
	return w.count.Load()
}
