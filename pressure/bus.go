// Package pressure implements the Memory Pressure Bus: a periodic sampler
// of process memory usage that fans a normalized pressure value out to
// subscribers (the Cache Manager, the Task Engine) and requests a GC when
// pressure runs high.
package pressure

import (
	"log"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Observer receives pressure samples. OnPressureChange must not block; a
// slow or panicking observer only affects its own delivery.
type Observer interface {
	OnPressureChange(p float64)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(p float64)

func (f ObserverFunc) OnPressureChange(p float64) { f(p) }

// Config configures a Bus.
type Config struct {
	SampleInterval  time.Duration
	NotifyThreshold float64 // subscribers notified once pressure exceeds this
	GCThreshold     float64 // debug.FreeOSMemory requested once pressure exceeds this
	HeapCeiling     uint64  // heap bytes considered "100% pressure"; 0 picks a runtime default
}

// DefaultConfig samples every 5 seconds, notifies above 0.8, and requests a
// GC above 0.9.
func DefaultConfig() Config {
	return Config{
		SampleInterval:  5 * time.Second,
		NotifyThreshold: 0.8,
		GCThreshold:     0.9,
	}
}

// Bus periodically samples runtime memory stats, computes a pressure value
// in [0,1], and notifies subscribed Observers when it crosses
// NotifyThreshold.
type Bus struct {
	cfg Config

	mu      sync.RWMutex
	subs    map[int]Observer
	next    int
	enabled bool

	lastMu sync.Mutex
	last   float64

	ctx    chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewBus constructs a Bus; call Start to begin sampling.
func NewBus(cfg Config) *Bus {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	if cfg.NotifyThreshold <= 0 {
		cfg.NotifyThreshold = 0.8
	}
	if cfg.GCThreshold <= 0 {
		cfg.GCThreshold = 0.9
	}
	return &Bus{cfg: cfg, subs: make(map[int]Observer), enabled: true, ctx: make(chan struct{})}
}

// Subscribe registers obs and returns a token usable with Unsubscribe.
func (b *Bus) Subscribe(obs Observer) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := b.next
	b.next++
	b.subs[token] = obs
	return token
}

// Unsubscribe removes the observer registered under token, if any.
func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, token)
}

// Enable and Disable toggle sampling without tearing down subscriptions;
// GetCurrentPressure keeps returning the last sample while disabled.
func (b *Bus) Enable() {
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
}

func (b *Bus) Disable() {
	b.mu.Lock()
	b.enabled = false
	b.mu.Unlock()
}

// Start launches the background sampling goroutine.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.loop()
}

// Stop halts sampling.
func (b *Bus) Stop() {
	b.once.Do(func() { close(b.ctx) })
	b.wg.Wait()
}

func (b *Bus) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx:
			return
		case <-ticker.C:
			b.sample()
		}
	}
}

func (b *Bus) sample() {
	b.mu.RLock()
	enabled := b.enabled
	b.mu.RUnlock()
	if !enabled {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	p := b.computePressure(&ms)

	b.lastMu.Lock()
	b.last = p
	b.lastMu.Unlock()

	if p > b.cfg.GCThreshold {
		log.Printf("[pressure] pressure %.2f exceeds GC threshold %.2f, requesting GC", p, b.cfg.GCThreshold)
		debug.FreeOSMemory()
	}

	if p > b.cfg.NotifyThreshold {
		b.notify(p)
	}
}

// computePressure derives a [0,1] pressure value from heap usage relative
// to either the configured ceiling or, absent one, the runtime's current
// soft memory limit (falling back to 2x current heap if no limit is set).
func (b *Bus) computePressure(ms *runtime.MemStats) float64 {
	ceiling := b.cfg.HeapCeiling
	if ceiling == 0 {
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != 1<<63-1 {
			ceiling = uint64(limit)
		} else {
			ceiling = ms.HeapAlloc * 2
			if ceiling == 0 {
				ceiling = 1
			}
		}
	}
	p := float64(ms.HeapAlloc) / float64(ceiling)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

func (b *Bus) notify(p float64) {
	b.mu.RLock()
	obs := make([]Observer, 0, len(b.subs))
	for _, o := range b.subs {
		obs = append(obs, o)
	}
	b.mu.RUnlock()

	for _, o := range obs {
		go func(o Observer) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[pressure] observer panicked: %v", r)
				}
			}()
			o.OnPressureChange(p)
		}(o)
	}
}

// Config returns the (defaulted) configuration the Bus was constructed
// with, for callers that need to reason about its thresholds directly.
func (b *Bus) Config() Config {
	return b.cfg
}

// GetCurrentPressure returns the most recent sample, or 0 before the first
// tick.
func (b *Bus) GetCurrentPressure() float64 {
	b.lastMu.Lock()
	defer b.lastMu.Unlock()
	return b.last
}

// ForceSample triggers an immediate sample outside the ticker schedule,
// used by tests and by the `optimize-memory` tool operation.
func (b *Bus) ForceSample() float64 {
	b.sample()
	return b.GetCurrentPressure()
}
