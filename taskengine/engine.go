package taskengine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"
)

// Config configures a new Engine.
type Config struct {
	MaxConcurrency  int
	RetentionWindow time.Duration // how long a terminal task stays queryable before reaping
	TickInterval    time.Duration // scheduler interval with no queue pressure
	BusyTickInterval time.Duration // scheduler interval while the queue is non-empty
	DefaultRecovery RecoveryPolicy
}

// DefaultConfig matches the defaults: 30 minute retention, 1s/500ms tick.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   4,
		RetentionWindow:  30 * time.Minute,
		TickInterval:     time.Second,
		BusyTickInterval: 500 * time.Millisecond,
		DefaultRecovery: RecoveryPolicy{
			RetryCount:         2,
			RetryDelay:         200 * time.Millisecond,
			ExponentialBackoff: true,
		},
	}
}

// Stats summarizes the engine's current operational state.
type Stats struct {
	Running         int
	Queued          int
	MaxConcurrency  int
	CompletedLastMin int64
	SuccessRate     float64
	AvgWait         time.Duration
	AvgExecution    time.Duration
}

// Diagnostics extends Stats with queue composition and memory/pressure
// context, for the `progress-tracker`/`status` tool surface.
type Diagnostics struct {
	Stats
	QueuedByKind     map[Kind]int
	QueuedByStatus   map[Status]int
	CurrentPressure  float64
	MemoryAllocBytes uint64
}

// Engine is the Task Queue & Scheduler: a priority queue of long-running
// operations, a background scheduler that starts tasks under a
// memory-pressure-aware concurrency cap, and a task table supporting
// lookup, cancellation, and retention-based reaping.
type Engine struct {
	cfg Config

	tableMu sync.Mutex
	tasks   map[string]*Task

	queueMu sync.Mutex
	queue   *priorityQueue

	running      int
	maxConc      int
	concMu       sync.Mutex
	pressureFn   func() float64 // injected; returns 0 if unset

	paused   bool
	pauseMu  sync.Mutex

	seqMu sync.Mutex
	seq   int64

	completions []time.Time // every completion timestamp, appended and never trimmed; for throughput
	completionsMu sync.Mutex
	successCount  int64
	failureCount  int64

	events *EventBus

	trackersMu sync.RWMutex
	trackers   *TrackerRegistry // optional; reaped alongside the task table each tick

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	started bool
	startMu sync.Mutex
}

// NewEngine constructs an Engine. pressureFn, if non-nil, is consulted by
// the scheduler to modulate the effective concurrency cap; pass the
// Memory Pressure Bus's GetCurrentPressure.
func NewEngine(cfg Config, pressureFn func() float64) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.BusyTickInterval <= 0 {
		cfg.BusyTickInterval = 500 * time.Millisecond
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		tasks:      make(map[string]*Task),
		queue:      newPriorityQueue(),
		maxConc:    cfg.MaxConcurrency,
		pressureFn: pressureFn,
		events:     NewEventBus(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Events returns the engine's event bus for subscription.
func (e *Engine) Events() *EventBus { return e.events }

// Start launches the background scheduler goroutine.
func (e *Engine) Start() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.wg.Add(1)
	go e.schedulerLoop()
	log.Printf("[taskengine] scheduler started, maxConcurrency=%d", e.maxConc)
}

// Stop cancels the scheduler and waits for it to exit.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

// Submit enqueues a new task and returns its ID immediately.
func (e *Engine) Submit(kind Kind, op Operation, params map[string]any, priority int, recovery *RecoveryPolicy) string {
	id := newTaskID()
	if recovery == nil {
		rp := e.cfg.DefaultRecovery
		recovery = &rp
	}

	e.seqMu.Lock()
	e.seq++
	seq := e.seq
	e.seqMu.Unlock()

	t := &Task{
		ID:        id,
		Kind:      kind,
		Status:    StatusQueued,
		Priority:  priority,
		CreatedAt: time.Now(),
		Params:    params,
		op:        op,
		seq:       seq,
		recovery:  recovery,
	}

	e.tableMu.Lock()
	e.tasks[id] = t
	e.tableMu.Unlock()

	e.queueMu.Lock()
	e.queue.push(t)
	e.queueMu.Unlock()

	e.events.Publish(Event{Kind: EventSubmitted, TaskID: id, Task: t.Snapshot()})
	return id
}

// GetTask returns a snapshot of the task with the given id.
func (e *Engine) GetTask(id string) (Task, bool) {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Snapshot(), true
}

// Cancel cancels a task. A queued task is removed from the queue and
// marked Cancelled immediately; a running task's context is cancelled and
// it transitions to Cancelled once its operation observes ctx.Done().
func (e *Engine) Cancel(id string) bool {
	e.tableMu.Lock()
	t, ok := e.tasks[id]
	e.tableMu.Unlock()
	if !ok || t.Status.terminal() {
		return false
	}

	if t.Status == StatusQueued {
		e.queueMu.Lock()
		removed := e.queue.remove(id)
		e.queueMu.Unlock()
		if removed {
			e.finishTask(t, StatusCancelled, nil, nil)
			return true
		}
	}

	if t.cancel != nil {
		t.cancel()
		return true
	}
	return false
}

// Pause stops the scheduler from starting new tasks; already-running tasks
// are unaffected.
func (e *Engine) Pause() {
	e.pauseMu.Lock()
	already := e.paused
	e.paused = true
	e.pauseMu.Unlock()
	if !already {
		e.events.Publish(Event{Kind: EventQueuePaused})
	}
}

// Resume re-enables the scheduler.
func (e *Engine) Resume() {
	e.pauseMu.Lock()
	was := e.paused
	e.paused = false
	e.pauseMu.Unlock()
	if was {
		e.events.Publish(Event{Kind: EventQueueResumed})
	}
}

// ClearQueue removes every still-queued task, marking each Cancelled.
// Running tasks are untouched.
func (e *Engine) ClearQueue() int {
	e.queueMu.Lock()
	drained := e.queue.clear()
	e.queueMu.Unlock()

	for _, t := range drained {
		e.finishTask(t, StatusCancelled, nil, nil)
	}
	return len(drained)
}

// SetMaxConcurrency updates the static concurrency cap; the effective cap
// used by the scheduler is still modulated by the pressure function.
func (e *Engine) SetMaxConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	e.concMu.Lock()
	changed := e.maxConc != n
	e.maxConc = n
	e.concMu.Unlock()
	if changed {
		e.events.Publish(Event{Kind: EventConcurrencyChanged, Concurrency: n})
	}
}

func (e *Engine) effectiveMaxConcurrency() int {
	e.concMu.Lock()
	base := e.maxConc
	e.concMu.Unlock()

	if e.pressureFn == nil {
		return base
	}
	p := e.pressureFn()
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	factor := 1 - p
	if factor < 0.25 {
		factor = 0.25 // never starve the queue entirely under pressure
	}
	adjusted := int(float64(base) * factor)
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted
}

func (e *Engine) schedulerLoop() {
	defer e.wg.Done()
	timer := time.NewTimer(e.cfg.TickInterval)
	defer timer.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-timer.C:
			e.tick()
			timer.Reset(e.nextTickInterval())
		}
	}
}

func (e *Engine) nextTickInterval() time.Duration {
	e.queueMu.Lock()
	n := e.queue.len()
	e.queueMu.Unlock()
	if n > 0 {
		return e.cfg.BusyTickInterval
	}
	return e.cfg.TickInterval
}

func (e *Engine) tick() {
	e.reapTerminal()

	e.pauseMu.Lock()
	paused := e.paused
	e.pauseMu.Unlock()
	if paused {
		return
	}

	limit := e.effectiveMaxConcurrency()
	for {
		e.concMu.Lock()
		running := e.running
		e.concMu.Unlock()
		if running >= limit {
			return
		}

		e.queueMu.Lock()
		t := e.queue.pop()
		e.queueMu.Unlock()
		if t == nil {
			return
		}

		e.startTask(t)
	}
}

func (e *Engine) startTask(t *Task) {
	e.concMu.Lock()
	e.running++
	e.concMu.Unlock()

	now := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &now

	ctx, cancel := context.WithCancel(e.ctx)
	t.cancel = cancel

	e.events.Publish(Event{Kind: EventStarted, TaskID: t.ID, Task: t.Snapshot()})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		rc := &RunContext{Context: ctx, report: func(p Progress) {
			e.tableMu.Lock()
			t.Progress = p
			e.tableMu.Unlock()
			e.events.Publish(Event{Kind: EventProgress, TaskID: t.ID, Progress: p})
		}}

		result := e.runSafely(rc, t)

		e.concMu.Lock()
		e.running--
		e.concMu.Unlock()

		select {
		case <-ctx.Done():
			if result.Err == context.Canceled {
				e.finishTask(t, StatusCancelled, nil, nil)
				return
			}
		default:
		}

		if result.Err != nil {
			e.finishTask(t, StatusFailed, nil, result.Err)
			return
		}
		e.finishTask(t, StatusCompleted, result.Value, nil)
	}()
}

// runSafely recovers from a panicking operation, converting it to an error
// so one task's bug cannot take down the scheduler.
func (e *Engine) runSafely(rc *RunContext, t *Task) (result RecoveryResult) {
	defer func() {
		if r := recover(); r != nil {
			result = RecoveryResult{Err: fmt.Errorf("task panic: %v", r)}
		}
	}()
	return runWithRecovery(rc, t.op, t.Params, t.recovery)
}

func (e *Engine) finishTask(t *Task, status Status, result any, err error) {
	now := time.Now()
	e.tableMu.Lock()
	t.Status = status
	t.CompletedAt = &now
	t.Result = result
	t.Err = err
	e.tableMu.Unlock()

	e.completionsMu.Lock()
	e.completions = append(e.completions, now)
	if status == StatusCompleted {
		e.successCount++
	} else if status == StatusFailed {
		e.failureCount++
	}
	e.completionsMu.Unlock()

	kind := EventCompleted
	switch status {
	case StatusFailed:
		kind = EventFailed
	case StatusCancelled:
		kind = EventCancelled
	}
	e.events.Publish(Event{Kind: kind, TaskID: t.ID, Task: t.Snapshot()})
}

// reapTerminal removes terminal tasks older than the retention window from
// the task table.
func (e *Engine) reapTerminal() {
	cutoff := time.Now().Add(-e.cfg.RetentionWindow)
	e.tableMu.Lock()
	var reaped []string
	for id, t := range e.tasks {
		if t.Status.terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(e.tasks, id)
			reaped = append(reaped, id)
		}
	}
	e.tableMu.Unlock()

	for _, id := range reaped {
		e.events.Publish(Event{Kind: EventCleaned, TaskID: id})
	}

	e.trackersMu.RLock()
	trackers := e.trackers
	e.trackersMu.RUnlock()
	if trackers != nil {
		trackers.Reap()
	}
}

// SetTrackerRegistry attaches the ProgressTracker registry the scheduler
// tick also reaps, alongside the task table itself. The registry is
// constructed separately (it subscribes to this engine's own event bus),
// so it is wired in after the fact rather than built by NewEngine.
func (e *Engine) SetTrackerRegistry(r *TrackerRegistry) {
	e.trackersMu.Lock()
	e.trackers = r
	e.trackersMu.Unlock()
}

// GetStats returns a snapshot of scheduler throughput and concurrency.
func (e *Engine) GetStats() Stats {
	e.concMu.Lock()
	running := e.running
	maxConc := e.maxConc
	e.concMu.Unlock()

	e.queueMu.Lock()
	queued := e.queue.len()
	e.queueMu.Unlock()

	e.completionsMu.Lock()
	cutoff := time.Now().Add(-time.Minute)
	var completedLastMin int64
	for _, ts := range e.completions {
		if ts.After(cutoff) {
			completedLastMin++
		}
	}
	success, failure := e.successCount, e.failureCount
	e.completionsMu.Unlock()

	var successRate float64
	if total := success + failure; total > 0 {
		successRate = float64(success) / float64(total)
	}

	avgWait, avgExec := e.averageDurations()

	return Stats{
		Running:          running,
		Queued:           queued,
		MaxConcurrency:   maxConc,
		CompletedLastMin: completedLastMin,
		SuccessRate:      successRate,
		AvgWait:          avgWait,
		AvgExecution:     avgExec,
	}
}

func (e *Engine) averageDurations() (avgWait, avgExec time.Duration) {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()

	var waitSum, execSum time.Duration
	var waitN, execN int
	for _, t := range e.tasks {
		if t.StartedAt != nil {
			waitSum += t.StartedAt.Sub(t.CreatedAt)
			waitN++
		}
		if t.StartedAt != nil && t.CompletedAt != nil {
			execSum += t.CompletedAt.Sub(*t.StartedAt)
			execN++
		}
	}
	if waitN > 0 {
		avgWait = waitSum / time.Duration(waitN)
	}
	if execN > 0 {
		avgExec = execSum / time.Duration(execN)
	}
	return
}

// GetDiagnostics extends GetStats with queue composition and the current
// memory/pressure sample.
func (e *Engine) GetDiagnostics() Diagnostics {
	stats := e.GetStats()

	e.queueMu.Lock()
	queued := e.queue.snapshot()
	e.queueMu.Unlock()

	byKind := make(map[Kind]int)
	byStatus := make(map[Status]int)
	for _, t := range queued {
		byKind[t.Kind]++
		byStatus[t.Status]++
	}

	var pressure float64
	if e.pressureFn != nil {
		pressure = e.pressureFn()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return Diagnostics{
		Stats:            stats,
		QueuedByKind:     byKind,
		QueuedByStatus:   byStatus,
		CurrentPressure:  pressure,
		MemoryAllocBytes: ms.Alloc,
	}
}

func newTaskID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("task-%d", time.Now().UnixNano())
	}
	return "task-" + hex.EncodeToString(b)
}
