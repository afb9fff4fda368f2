package taskengine

import (
	"sync"
	"time"
)

// trackerRetention is how long a tracker survives after its bound task
// reaches a terminal stage before being reaped.
const trackerRetention = 5 * time.Minute

// ProgressTracker is the externally visible handle for a task's progress,
// returned by the `progress-tracker` tool operation: an id, the operation
// name, a start time, the latest progress sample, and the bound task's ID.
// It holds no cancellation handle; a task is cancelled through
// Engine.Cancel with that ID.
type ProgressTracker struct {
	ID          string
	Operation   string
	StartTime   time.Time
	Progress    Progress
	TaskID      string
	terminalAt  *time.Time
}

// TrackerRegistry binds ProgressTrackers to tasks by subscribing to the
// Engine's event bus, and reaps trackers whose task has been terminal for
// longer than trackerRetention.
type TrackerRegistry struct {
	mu       sync.Mutex
	trackers map[string]*ProgressTracker // keyed by task ID
	token    int
}

// NewTrackerRegistry creates a registry and subscribes it to bus.
func NewTrackerRegistry(bus *EventBus) *TrackerRegistry {
	r := &TrackerRegistry{trackers: make(map[string]*ProgressTracker)}
	r.token = bus.Subscribe(SubscriberFunc(r.onEvent))
	return r
}

func (r *TrackerRegistry) onEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Kind {
	case EventSubmitted, EventStarted:
		t, ok := r.trackers[e.TaskID]
		if !ok {
			t = &ProgressTracker{
				ID:        e.TaskID,
				Operation: string(e.Task.Kind),
				StartTime: time.Now(),
				TaskID:    e.TaskID,
			}
			r.trackers[e.TaskID] = t
		}
	case EventProgress:
		if t, ok := r.trackers[e.TaskID]; ok {
			t.Progress = e.Progress
		}
	case EventCompleted, EventFailed, EventCancelled:
		if t, ok := r.trackers[e.TaskID]; ok {
			now := time.Now()
			t.terminalAt = &now
		}
	}
}

// Get returns a copy of the tracker bound to taskID, if any.
func (r *TrackerRegistry) Get(taskID string) (ProgressTracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[taskID]
	if !ok {
		return ProgressTracker{}, false
	}
	return *t, true
}

// List returns a copy of every currently tracked tracker.
func (r *TrackerRegistry) List() []ProgressTracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressTracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, *t)
	}
	return out
}

// Reap removes trackers whose bound task has been terminal for longer than
// trackerRetention, returning the count removed.
func (r *TrackerRegistry) Reap() int {
	cutoff := time.Now().Add(-trackerRetention)
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, t := range r.trackers {
		if t.terminalAt != nil && t.terminalAt.Before(cutoff) {
			delete(r.trackers, id)
			n++
		}
	}
	return n
}
