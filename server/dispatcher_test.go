package server

import (
	"context"
	"errors"
	"testing"

	"github.com/lordbasex/dbopscore/cache"
)

// fakeExecutor is a DBExecutor test double recording the last statement it
// was asked to run, so tests can assert on dispatch routing without a real
// MySQL connection.
type fakeExecutor struct {
	lastQuery string
	lastArgs  []interface{}
	rows      [][]interface{}
	cols      []string
	err       error

	schema Schema
	batch  []Result
}

func (f *fakeExecutor) Execute(ctx context.Context, query string, params []interface{}) ([][]interface{}, []string, error) {
	f.lastQuery = query
	f.lastArgs = params
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.rows, f.cols, nil
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, stmts []string, transactional bool) ([]Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f *fakeExecutor) GetTableSchema(ctx context.Context, table string) (Schema, error) {
	if f.err != nil {
		return Schema{}, f.err
	}
	return f.schema, nil
}

func newTestHandler(exec *fakeExecutor) *Handler {
	return &Handler{
		deviceID:      "test-device",
		dbExecutor:    exec,
		sensitiveMask: false,
	}
}

func TestDispatchExecuteQuerySelectUsesCache(t *testing.T) {
	exec := &fakeExecutor{cols: []string{"id", "name"}, rows: [][]interface{}{{1, "ada"}}}
	h := newTestHandler(exec)
	h.cacheManager = cache.NewManager(cache.DefaultManagerConfig())
	d := NewDispatcher(h)

	req := ToolRequest{Operation: "execute-query", Params: map[string]interface{}{
		"query": "SELECT id, name FROM users WHERE id = ?",
		"params": []interface{}{1},
	}}

	result := d.Dispatch(context.Background(), req)
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}

	// Second call should be served from cache; the executor must not be hit
	// again, so changing its canned rows must not change the result.
	exec.rows = [][]interface{}{{2, "bob"}}
	result2 := d.Dispatch(context.Background(), req)
	if len(result2.Rows) != 1 || result2.Rows[0][1] != "ada" {
		t.Fatalf("expected cached result, got %#v", result2.Rows)
	}
}

func TestDispatchExecuteQueryWriteInvalidatesCache(t *testing.T) {
	exec := &fakeExecutor{}
	h := newTestHandler(exec)
	h.cacheManager = cache.NewManager(cache.DefaultManagerConfig())
	d := NewDispatcher(h)

	selectReq := ToolRequest{Operation: "execute-query", Params: map[string]interface{}{
		"query": "SELECT * FROM users",
	}}
	exec.cols = []string{"id"}
	exec.rows = [][]interface{}{{1}}
	d.Dispatch(context.Background(), selectReq)

	updateReq := ToolRequest{Operation: "execute-query", Params: map[string]interface{}{
		"query": "UPDATE users SET name = 'x' WHERE id = 1",
	}}
	if r := d.Dispatch(context.Background(), updateReq); r.Error != "" {
		t.Fatalf("unexpected error on update: %s", r.Error)
	}

	exec.rows = [][]interface{}{{2}}
	result := d.Dispatch(context.Background(), selectReq)
	if len(result.Rows) != 1 || result.Rows[0][0] != 2 {
		t.Fatalf("expected cache invalidated after write, got %#v", result.Rows)
	}
}

func TestDispatchUnsupportedOperation(t *testing.T) {
	h := newTestHandler(&fakeExecutor{})
	d := NewDispatcher(h)

	result := d.Dispatch(context.Background(), ToolRequest{Operation: "does-not-exist"})
	if result.Error == "" {
		t.Fatalf("expected error for unsupported operation")
	}
}

func TestDispatchSelectDataRequiresTable(t *testing.T) {
	h := newTestHandler(&fakeExecutor{})
	d := NewDispatcher(h)

	result := d.Dispatch(context.Background(), ToolRequest{Operation: "select-data", Params: map[string]interface{}{}})
	if result.Error == "" {
		t.Fatalf("expected error when table is missing")
	}
}

func TestDispatchExecuteQueryPropagatesExecutorError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("connection refused")}
	h := newTestHandler(exec)
	d := NewDispatcher(h)

	result := d.Dispatch(context.Background(), ToolRequest{Operation: "execute-query", Params: map[string]interface{}{
		"query": "INSERT INTO users (name) VALUES ('x')",
	}})
	if result.Error == "" {
		t.Fatalf("expected error to surface from executor failure")
	}
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	// A nil *fakeExecutor is a non-nil DBExecutor whose Execute writes
	// through its nil receiver, so execute-query panics inside the
	// operation. Dispatch must recover and report it as an error.
	h := newTestHandler(nil)
	d := NewDispatcher(h)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Dispatch should recover internally, but panic escaped: %v", r)
		}
	}()
	result := d.Dispatch(context.Background(), ToolRequest{Operation: "execute-query", Params: map[string]interface{}{
		"query": "INSERT INTO users (name) VALUES ('x')",
	}})
	if result.Error == "" {
		t.Fatalf("expected the recovered panic to be reported as an error")
	}
}
