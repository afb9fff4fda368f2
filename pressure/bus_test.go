package pressure

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscribeAndNotifyAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeapCeiling = 1 // guarantees pressure saturates to 1.0
	cfg.NotifyThreshold = 0.1
	cfg.GCThreshold = 2 // never trip GC during the test
	b := NewBus(cfg)

	var got float64
	var mu sync.Mutex
	done := make(chan struct{})
	b.Subscribe(ObserverFunc(func(p float64) {
		mu.Lock()
		got = p
		mu.Unlock()
		close(done)
	}))

	b.ForceSample()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("observer was never notified")
	}

	mu.Lock()
	defer mu.Unlock()
	if got <= cfg.NotifyThreshold {
		t.Fatalf("expected pressure above threshold, got %v", got)
	}
}

func TestUnsubscribedObserverNotNotified(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeapCeiling = 1
	cfg.NotifyThreshold = 0.1
	cfg.GCThreshold = 2
	b := NewBus(cfg)

	var calls int32
	token := b.Subscribe(ObserverFunc(func(p float64) {
		atomic.AddInt32(&calls, 1)
	}))
	b.Unsubscribe(token)

	b.ForceSample()
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected unsubscribed observer to receive 0 notifications, got %d", calls)
	}
}

func TestPanickingObserverDoesNotBlockSiblings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeapCeiling = 1
	cfg.NotifyThreshold = 0.1
	cfg.GCThreshold = 2
	b := NewBus(cfg)

	done := make(chan struct{})
	b.Subscribe(ObserverFunc(func(p float64) {
		panic("boom")
	}))
	b.Subscribe(ObserverFunc(func(p float64) {
		close(done)
	}))

	b.ForceSample()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sibling observer was never notified after a panicking observer")
	}
}

func TestDisableStopsSampling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeapCeiling = 1
	b := NewBus(cfg)
	b.Disable()

	if p := b.ForceSample(); p != 0 {
		t.Fatalf("expected disabled bus to report 0 pressure, got %v", p)
	}
}

func TestGetCurrentPressureBeforeFirstSample(t *testing.T) {
	b := NewBus(DefaultConfig())
	if p := b.GetCurrentPressure(); p != 0 {
		t.Fatalf("expected 0 pressure before any sample, got %v", p)
	}
}
