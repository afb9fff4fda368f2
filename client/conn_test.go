package client

import (
	"database/sql/driver"
	"testing"
)

func TestCountPlaceholdersIgnoresQuestionMarksInStringLiterals(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"SELECT * FROM users WHERE id = ?", 1},
		{"SELECT * FROM users WHERE name = 'what?' AND id = ?", 1},
		{"INSERT INTO t (a, b, c) VALUES (?, ?, ?)", 3},
		{"SELECT 1", 0},
	}
	for _, c := range cases {
		if got := countPlaceholders(c.query); got != c.want {
			t.Errorf("countPlaceholders(%q) = %d, want %d", c.query, got, c.want)
		}
	}
}

func TestArgsToSlicePreservesOrderAndValues(t *testing.T) {
	args := []driver.NamedValue{
		{Ordinal: 1, Value: "a"},
		{Ordinal: 2, Value: 42},
	}
	got := argsToSlice(args)
	if len(got) != 2 || got[0] != "a" || got[1] != 42 {
		t.Fatalf("unexpected slice: %#v", got)
	}
}

func TestGetOutboundIPNeverPanics(t *testing.T) {
	ip := getOutboundIP()
	if ip == "" {
		t.Fatalf("expected a non-empty IP or \"unknown\" fallback")
	}
}
