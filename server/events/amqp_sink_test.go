package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lordbasex/dbopscore/taskengine"
)

func TestNewTaskEventShape(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	e := taskengine.Event{
		Kind:   taskengine.EventCompleted,
		TaskID: "task-1",
		Task:   taskengine.Task{Status: taskengine.StatusCompleted},
		Progress: taskengine.Progress{
			Percent:   100,
			Stage:     taskengine.StageCompleted,
			Message:   "done",
			UpdatedAt: now,
		},
	}

	got := newTaskEvent("device-a", e)

	if got.DeviceID != "device-a" {
		t.Fatalf("expected deviceID device-a, got %s", got.DeviceID)
	}
	if got.Kind != "task-completed" {
		t.Fatalf("expected kind task-completed, got %s", got.Kind)
	}
	if got.Stage != "completed" {
		t.Fatalf("expected stage completed, got %s", got.Stage)
	}
	if got.TaskID != "task-1" {
		t.Fatalf("expected taskId task-1, got %s", got.TaskID)
	}
	if got.Status != "completed" {
		t.Fatalf("expected status completed, got %s", got.Status)
	}
	if got.Percent != 100 {
		t.Fatalf("expected percent 100, got %v", got.Percent)
	}
	if !got.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp %v, got %v", now, got.Timestamp)
	}

	body, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	var round map[string]interface{}
	if err := json.Unmarshal(body, &round); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if round["taskId"] != "task-1" {
		t.Fatalf("expected taskId field in JSON, got %#v", round)
	}
}
