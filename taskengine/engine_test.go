package taskengine

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func waitForStatus(t *testing.T, e *Engine, id string, want Status, timeout time.Duration) Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, ok := e.GetTask(id)
		if ok && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %v in time", id, want)
	return Task{}
}

func TestPriorityScheduling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	cfg.TickInterval = 10 * time.Millisecond
	cfg.BusyTickInterval = 10 * time.Millisecond
	e := NewEngine(cfg, nil)

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})

	op := func(name string) Operation {
		return func(rc *RunContext, params map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			<-release
			return nil, nil
		}
	}

	e.Start()
	defer e.Stop()

	idA := e.Submit(KindBackup, op("A"), nil, 1, &RecoveryPolicy{})
	idB := e.Submit(KindBackup, op("B"), nil, 5, &RecoveryPolicy{})
	idC := e.Submit(KindBackup, op("C"), nil, 3, &RecoveryPolicy{})
	_ = idA

	time.Sleep(50 * time.Millisecond)
	close(release)

	waitForStatus(t, e, idB, StatusCompleted, time.Second)
	waitForStatus(t, e, idC, StatusCompleted, time.Second)
	waitForStatus(t, e, idA, StatusCompleted, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "B" || order[1] != "C" || order[2] != "A" {
		t.Fatalf("expected execution order B, C, A; got %v", order)
	}
}

func TestRetryWithFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 2
	cfg.TickInterval = 10 * time.Millisecond
	cfg.BusyTickInterval = 10 * time.Millisecond
	e := NewEngine(cfg, nil)
	e.Start()
	defer e.Stop()

	var attempts int
	var mu sync.Mutex
	op := func(rc *RunContext, params map[string]any) (any, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 4 {
			return nil, errors.New("deadlock found when trying to get lock")
		}
		return "ok", nil
	}

	policy := &RecoveryPolicy{RetryCount: 3, RetryDelay: time.Millisecond}
	id := e.Submit(KindReport, op, nil, 1, policy)

	task := waitForStatus(t, e, id, StatusCompleted, time.Second)
	if task.Result != "ok" {
		t.Fatalf("expected result 'ok', got %v", task.Result)
	}
}

func TestRetryExhaustionFallsBackToFallbackOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.BusyTickInterval = 10 * time.Millisecond
	e := NewEngine(cfg, nil)
	e.Start()
	defer e.Stop()

	op := func(rc *RunContext, params map[string]any) (any, error) {
		if params["useFallback"] == true {
			return "fallback-result", nil
		}
		return nil, errors.New("connection refused")
	}

	policy := &RecoveryPolicy{
		RetryCount:     1,
		RetryDelay:     time.Millisecond,
		FallbackParams: map[string]any{"useFallback": true},
	}
	id := e.Submit(KindExport, op, map[string]any{}, 1, policy)

	task := waitForStatus(t, e, id, StatusCompleted, time.Second)
	if task.Result != "fallback-result" {
		t.Fatalf("expected fallback-result, got %v", task.Result)
	}
}

func TestRunningNeverExceedsConcurrencyCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 2
	cfg.TickInterval = 5 * time.Millisecond
	cfg.BusyTickInterval = 5 * time.Millisecond
	e := NewEngine(cfg, nil)
	e.Start()
	defer e.Stop()

	release := make(chan struct{})
	var maxObserved int
	var mu sync.Mutex

	op := func(rc *RunContext, params map[string]any) (any, error) {
		mu.Lock()
		cur := e.GetStats().Running
		if cur > maxObserved {
			maxObserved = cur
		}
		mu.Unlock()
		<-release
		return nil, nil
	}

	for i := 0; i < 6; i++ {
		e.Submit(KindBackup, op, nil, 1, &RecoveryPolicy{})
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if maxObserved > 2 {
		t.Fatalf("expected running count never to exceed cap of 2, observed %d", maxObserved)
	}
}

func TestPauseResumePublishQueueEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.BusyTickInterval = 5 * time.Millisecond
	e := NewEngine(cfg, nil)

	var mu sync.Mutex
	var kinds []EventKind
	e.Events().Subscribe(SubscriberFunc(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	}))

	e.Pause()
	e.Pause() // second call while already paused must not re-publish
	e.Resume()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(kinds)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	var paused, resumed int
	for _, k := range kinds {
		switch k {
		case EventQueuePaused:
			paused++
		case EventQueueResumed:
			resumed++
		}
	}
	if paused != 1 {
		t.Fatalf("expected exactly one queue-paused event, got %d", paused)
	}
	if resumed != 1 {
		t.Fatalf("expected exactly one queue-resumed event, got %d", resumed)
	}
}

func TestSetMaxConcurrencyPublishesEvent(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg, nil)

	var mu sync.Mutex
	var got *Event
	e.Events().Subscribe(SubscriberFunc(func(ev Event) {
		if ev.Kind == EventConcurrencyChanged {
			mu.Lock()
			cp := ev
			got = &cp
			mu.Unlock()
		}
	}))

	e.SetMaxConcurrency(7)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := got != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatalf("expected a concurrency-changed event")
	}
	if got.Concurrency != 7 {
		t.Fatalf("expected Concurrency 7, got %d", got.Concurrency)
	}
}

func TestReapTerminalReapsTrackerRegistry(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg, nil)
	registry := NewTrackerRegistry(e.Events())
	e.SetTrackerRegistry(registry)

	taskID := "task-reap-test"
	past := time.Now().Add(-trackerRetention - time.Second)
	registry.mu.Lock()
	registry.trackers[taskID] = &ProgressTracker{ID: taskID, TaskID: taskID, terminalAt: &past}
	registry.mu.Unlock()

	if _, ok := registry.Get(taskID); !ok {
		t.Fatalf("expected tracker present before reaping")
	}

	// tick() runs reapTerminal, which must also reap the registry set via
	// SetTrackerRegistry — this is the wiring Review comment 3 required.
	e.tick()

	if _, ok := registry.Get(taskID); ok {
		t.Fatalf("expected tracker to be reaped once past its retention window")
	}
}

func TestCancelQueuedTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	cfg.TickInterval = 5 * time.Millisecond
	cfg.BusyTickInterval = 5 * time.Millisecond
	e := NewEngine(cfg, nil)

	release := make(chan struct{})
	blocker := func(rc *RunContext, params map[string]any) (any, error) {
		<-release
		return nil, nil
	}
	noop := func(rc *RunContext, params map[string]any) (any, error) {
		return "done", nil
	}

	e.Start()
	defer func() {
		close(release)
		e.Stop()
	}()

	e.Submit(KindBackup, blocker, nil, 1, &RecoveryPolicy{})
	time.Sleep(20 * time.Millisecond)

	queuedID := e.Submit(KindBackup, noop, nil, 1, &RecoveryPolicy{})
	if !e.Cancel(queuedID) {
		t.Fatalf("expected cancel of queued task to succeed")
	}
	task := waitForStatus(t, e, queuedID, StatusCancelled, time.Second)
	if task.CompletedAt == nil {
		t.Fatalf("expected CompletedAt set on cancelled task")
	}
}
