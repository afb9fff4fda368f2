package classify

import (
	"errors"
	"testing"
)

func TestClassifyKnownDiagnostics(t *testing.T) {
	cases := []struct {
		msg      string
		category Category
		retry    bool
	}{
		{"Error 1062: Duplicate entry 'x' for key 'PRIMARY'", CategoryDuplicateEntry, false},
		{"Error 1213: Deadlock found when trying to get lock", CategoryDeadlock, true},
		{"dial tcp: connection refused", CategoryConnectionRefused, true},
		{"Error 1205: Lock wait timeout exceeded", CategoryLockWaitTimeout, true},
		{"Error 1146: Table 'x.y' doesn't exist", CategoryUnknownTable, false},
		{"You have an error in your SQL syntax", CategorySyntaxError, false},
	}
	for _, c := range cases {
		rec := Classify(errors.New(c.msg), nil)
		if rec.Category != c.category {
			t.Errorf("message %q: got category %v, want %v", c.msg, rec.Category, c.category)
		}
		if rec.Retryable != c.retry {
			t.Errorf("message %q: got retryable %v, want %v", c.msg, rec.Retryable, c.retry)
		}
	}
}

func TestClassifyUnknownDefaultsToNonRetryable(t *testing.T) {
	rec := Classify(errors.New("something entirely unanticipated"), nil)
	if rec.Category != CategoryUnknown {
		t.Fatalf("expected Unknown category, got %v", rec.Category)
	}
	if rec.Retryable {
		t.Fatalf("expected unknown errors to not be retryable")
	}
}

func TestClassifyNilError(t *testing.T) {
	rec := Classify(nil, nil)
	if rec.Retryable || rec.Recoverable {
		t.Fatalf("expected nil error to classify as non-recoverable, non-retryable")
	}
}

func TestClassifyRecoverableButNotRetryable(t *testing.T) {
	rec := Classify(errors.New("no space left on device"), nil)
	if !rec.Recoverable {
		t.Fatalf("expected disk-full to be recoverable")
	}
	if rec.Retryable {
		t.Fatalf("expected disk-full to not be mechanically retryable")
	}
}
