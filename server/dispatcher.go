package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lordbasex/dbopscore/cache"
	"github.com/lordbasex/dbopscore/classify"
	"github.com/lordbasex/dbopscore/sensitive"
	"github.com/lordbasex/dbopscore/taskengine"
)

// handleTool parses req.Query as a JSON-encoded ToolRequest and dispatches
// it against the handler's tool surface, the same way handleFunction
// parses req.Query as a JSON FunctionRequest.
func (h *Handler) handleTool(ch *amqp.Channel, msg amqp.Delivery, req RPCRequest) {
	var toolReq ToolRequest
	if err := json.Unmarshal([]byte(req.Query), &toolReq); err != nil {
		h.respond(ch, msg.ReplyTo, msg.CorrelationId, RPCResponse{
			Error: fmt.Sprintf("invalid tool request: %v", err),
		})
		return
	}
	toolReq.ClientIP = req.ClientIP

	if extra := ToolRequestCost(toolReq.Operation); extra > 0 && !h.rateLimiter.AllowCost(req.ClientIP, extra) {
		h.respond(ch, msg.ReplyTo, msg.CorrelationId, RPCResponse{
			Error: fmt.Sprintf("rate limit exceeded for operation %q", toolReq.Operation),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := NewDispatcher(h).Dispatch(ctx, toolReq)

	body, err := json.Marshal(result)
	if err != nil {
		h.respond(ch, msg.ReplyTo, msg.CorrelationId, RPCResponse{Error: err.Error()})
		return
	}

	if pubErr := ch.PublishWithContext(ctx, "", msg.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: msg.CorrelationId,
		Body:          body,
	}); pubErr != nil {
		log.Printf("[server] failed to publish tool response: %v", pubErr)
	}
}

// ToolRequest is the named-operation request shape the dispatcher accepts,
// generalizing RPCRequest's raw SQL/function/command triad to the full
// tool surface (schema inspection, batch operations, backups, task and
// memory-pressure introspection).
type ToolRequest struct {
	Operation string                 `json:"operation"`
	Params    map[string]interface{} `json:"params"`
	ClientIP  string                 `json:"clientIP"`
}

// ToolResult generalizes RPCResponse with a free-form Data map alongside
// the existing tabular Columns/Rows shape, for operations that don't
// naturally return rows (status, progress, task ids).
type ToolResult struct {
	Columns []string               `json:"columns,omitempty"`
	Rows    [][]interface{}        `json:"rows,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	TaskID  string                 `json:"taskId,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Dispatcher routes ToolRequests to the database, cache, task engine,
// pressure bus, and classification/masking collaborators attached to a
// Handler.
type Dispatcher struct {
	h *Handler
}

// NewDispatcher wraps h for tool dispatch.
func NewDispatcher(h *Handler) *Dispatcher {
	return &Dispatcher{h: h}
}

// Dispatch routes req to its operation and recovers from any panic in the
// underlying implementation, classifying and masking it like any other
// boundary-crossing failure.
func (d *Dispatcher) Dispatch(ctx context.Context, req ToolRequest) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = d.fail(fmt.Errorf("panic in operation %q: %v", req.Operation, r), map[string]any{"operation": req.Operation})
		}
	}()

	switch req.Operation {
	case "execute-query":
		return d.executeQuery(ctx, req)
	case "show-tables":
		return d.showTables(ctx, req)
	case "describe-table":
		return d.describeTable(ctx, req)
	case "select-data":
		return d.selectData(ctx, req)
	case "insert":
		return d.insert(ctx, req)
	case "update":
		return d.update(ctx, req)
	case "delete":
		return d.delete(ctx, req)
	case "get-schema":
		return d.getSchema(ctx, req)
	case "get-foreign-keys":
		return d.getForeignKeys(ctx, req)
	case "create-table":
		return d.ddl(ctx, req, cache.InvalidateCreate)
	case "drop-table":
		return d.ddl(ctx, req, cache.InvalidateDrop)
	case "alter-table":
		return d.ddl(ctx, req, cache.InvalidateAlter)
	case "batch-execute":
		return d.batchExecute(ctx, req)
	case "batch-insert":
		return d.batchInsert(ctx, req)
	case "backup":
		return d.backup(ctx, req)
	case "verify-backup":
		return d.verifyBackup(ctx, req)
	case "export":
		return d.export(ctx, req)
	case "generate-report":
		return d.generateReport(ctx, req)
	case "import":
		return d.importData(ctx, req)
	case "status":
		return d.status(ctx, req)
	case "analyze-error":
		return d.analyzeError(ctx, req)
	case "security-audit":
		return d.securityAudit(ctx, req)
	case "manage-indexes":
		return d.manageIndexes(ctx, req)
	case "performance-optimize":
		return d.performanceOptimize(ctx, req)
	case "manage-users":
		return d.manageUsers(ctx, req)
	case "progress-tracker":
		return d.progressTracker(ctx, req)
	case "optimize-memory":
		return d.optimizeMemory(ctx, req)
	case "manage-queue":
		return d.manageQueue(ctx, req)
	case "replication-status":
		return d.replicationStatus(ctx, req)
	default:
		return ToolResult{Error: fmt.Sprintf("unsupported operation: %s", req.Operation)}
	}
}

// fail classifies err before it leaves the dispatcher and, when the
// handler's sensitiveMask flag is set, masks the message so error text that
// embeds SQL literals or connection details is scrubbed; with the flag
// unset the classified message is returned as is.
func (d *Dispatcher) fail(err error, context map[string]any) ToolResult {
	rec := classify.Classify(err, context)
	msg := rec.Message
	if d.h.sensitiveMask {
		msg, _ = sensitive.Mask(msg)
	}
	return ToolResult{Error: msg}
}

func paramString(p map[string]interface{}, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func paramBool(p map[string]interface{}, key string) bool {
	v, _ := p[key].(bool)
	return v
}

func paramSlice(p map[string]interface{}, key string) []interface{} {
	v, _ := p[key].([]interface{})
	return v
}

func paramStringSlice(p map[string]interface{}, key string) []string {
	raw := paramSlice(p, key)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func paramMap(p map[string]interface{}, key string) map[string]interface{} {
	v, _ := p[key].(map[string]interface{})
	return v
}

// --- read-shaped operations: cache-first, database on miss ---

func (d *Dispatcher) readCached(ctx context.Context, query string, params []interface{}) ([][]interface{}, []string, error) {
	if d.h.cacheManager != nil {
		if cached, ok := d.h.cacheManager.GetCachedQuery(query, params); ok {
			entry, ok := cached.([][]interface{})
			if ok {
				return entry, nil, nil
			}
		}
	}
	rows, cols, err := d.h.executor().Execute(ctx, query, params)
	if err != nil {
		return nil, nil, err
	}
	if d.h.cacheManager != nil {
		d.h.cacheManager.SetCachedQuery(query, params, rows)
	}
	return rows, cols, nil
}

func (d *Dispatcher) executeQuery(ctx context.Context, req ToolRequest) ToolResult {
	query := paramString(req.Params, "query")
	params := paramSlice(req.Params, "params")

	if d.h.sqlValidator != nil {
		validation := d.h.sqlValidator.ValidateQuery(query, params)
		if !validation.Valid {
			return d.fail(fmt.Errorf("query rejected: %s", strings.Join(validation.Errors, "; ")),
				map[string]any{"operation": req.Operation, "riskLevel": validation.Risk.String()})
		}
	}

	if isReadStatement(query) {
		rows, cols, err := d.readCached(ctx, query, params)
		if err != nil {
			return d.fail(err, map[string]any{"operation": req.Operation})
		}
		return ToolResult{Columns: cols, Rows: rows}
	}

	rows, cols, err := d.h.executor().Execute(ctx, query, params)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation})
	}
	d.invalidateAfterWrite(query)
	return ToolResult{Columns: cols, Rows: rows}
}

func (d *Dispatcher) invalidateAfterWrite(query string) {
	if d.h.cacheManager == nil {
		return
	}
	kind := cache.InferQueryKind(query)
	invKind, ok := cache.InvalidationKindFromQuery(kind)
	if !ok {
		return
	}
	tables := cache.ExtractTables(query)
	if len(tables) == 0 {
		d.h.cacheManager.InvalidateCache(invKind, "")
		return
	}
	for _, t := range tables {
		d.h.cacheManager.InvalidateCache(invKind, t)
	}
}

func (d *Dispatcher) showTables(ctx context.Context, req ToolRequest) ToolResult {
	rows, cols, err := d.readCached(ctx, "SHOW TABLES", nil)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation})
	}
	return ToolResult{Columns: cols, Rows: rows}
}

func (d *Dispatcher) describeTable(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	if table == "" {
		return d.fail(fmt.Errorf("describe-table requires a table name"), nil)
	}
	query := fmt.Sprintf("DESCRIBE `%s`", table)
	rows, cols, err := d.readCached(ctx, query, nil)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	return ToolResult{Columns: cols, Rows: rows}
}

func (d *Dispatcher) selectData(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	if table == "" {
		return d.fail(fmt.Errorf("select-data requires a table name"), nil)
	}
	columns := paramStringSlice(req.Params, "columns")
	colList := "*"
	if len(columns) > 0 {
		colList = strings.Join(columns, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM `%s`", colList, table)
	params := paramSlice(req.Params, "params")
	if where := paramString(req.Params, "where"); where != "" {
		query += " WHERE " + where
	}

	rows, cols, err := d.readCached(ctx, query, params)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	return ToolResult{Columns: cols, Rows: rows}
}

// --- write-shaped operations: database then invalidate ---

func (d *Dispatcher) insert(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	values := paramMap(req.Params, "values")
	if table == "" || len(values) == 0 {
		return d.fail(fmt.Errorf("insert requires a table and values"), nil)
	}

	cols := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values))
	for col, val := range values {
		cols = append(cols, col)
		placeholders = append(placeholders, "?")
		args = append(args, val)
	}
	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	rows, colNames, err := d.h.executor().Execute(ctx, query, args)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	if d.h.cacheManager != nil {
		d.h.cacheManager.InvalidateCache(cache.InvalidateInsert, table)
	}
	return ToolResult{Columns: colNames, Rows: rows}
}

func (d *Dispatcher) update(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	set := paramMap(req.Params, "set")
	where := paramString(req.Params, "where")
	if table == "" || len(set) == 0 || where == "" {
		return d.fail(fmt.Errorf("update requires a table, set values, and a where clause"), nil)
	}

	assignments := make([]string, 0, len(set))
	args := make([]interface{}, 0, len(set))
	for col, val := range set {
		assignments = append(assignments, col+" = ?")
		args = append(args, val)
	}
	args = append(args, paramSlice(req.Params, "whereParams")...)
	query := fmt.Sprintf("UPDATE `%s` SET %s WHERE %s", table, strings.Join(assignments, ", "), where)

	rows, colNames, err := d.h.executor().Execute(ctx, query, args)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	if d.h.cacheManager != nil {
		d.h.cacheManager.InvalidateCache(cache.InvalidateUpdate, table)
	}
	return ToolResult{Columns: colNames, Rows: rows}
}

func (d *Dispatcher) delete(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	where := paramString(req.Params, "where")
	if table == "" || where == "" {
		return d.fail(fmt.Errorf("delete requires a table and a where clause"), nil)
	}
	args := paramSlice(req.Params, "whereParams")
	query := fmt.Sprintf("DELETE FROM `%s` WHERE %s", table, where)

	rows, colNames, err := d.h.executor().Execute(ctx, query, args)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	if d.h.cacheManager != nil {
		d.h.cacheManager.InvalidateCache(cache.InvalidateDelete, table)
	}
	return ToolResult{Columns: colNames, Rows: rows}
}

func (d *Dispatcher) getSchema(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	if table == "" {
		return d.fail(fmt.Errorf("get-schema requires a table name"), nil)
	}

	cacheKey := "schema:" + table
	if d.h.cacheManager != nil {
		if cached, ok := d.h.cacheManager.Get(cache.SchemaRegion, cacheKey); ok {
			if schema, ok := cached.(Schema); ok {
				return schemaResult(schema)
			}
		}
	}

	schema, err := d.h.executor().GetTableSchema(ctx, table)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	if d.h.cacheManager != nil {
		d.h.cacheManager.Set(cache.SchemaRegion, cacheKey, schema)
	}
	return schemaResult(schema)
}

func schemaResult(schema Schema) ToolResult {
	rows := make([][]interface{}, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		def := ""
		if c.Default.Valid {
			def = c.Default.String
		}
		rows = append(rows, []interface{}{c.Name, c.Type, c.Nullable, c.Key, def})
	}
	return ToolResult{Columns: []string{"name", "type", "nullable", "key", "default"}, Rows: rows}
}

func (d *Dispatcher) getForeignKeys(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	if table == "" {
		return d.fail(fmt.Errorf("get-foreign-keys requires a table name"), nil)
	}
	query := `SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL`
	rows, cols, err := d.readCached(ctx, query, []interface{}{table})
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	return ToolResult{Columns: cols, Rows: rows}
}

// ddl runs a raw DDL statement (create-table/drop-table/alter-table each
// take a "statement" param; table names are extracted with a lightweight
// heuristic rather than a full SQL parser) and clears cache per kind.
func (d *Dispatcher) ddl(ctx context.Context, req ToolRequest, kind cache.InvalidationKind) ToolResult {
	statement := paramString(req.Params, "statement")
	if statement == "" {
		return d.fail(fmt.Errorf("%s requires a statement", req.Operation), nil)
	}
	if d.h.sqlValidator != nil {
		validation := d.h.sqlValidator.ValidateQuery(statement, nil)
		if !validation.Valid {
			return d.fail(fmt.Errorf("statement rejected: %s", strings.Join(validation.Errors, "; ")),
				map[string]any{"operation": req.Operation, "riskLevel": validation.Risk.String()})
		}
	}
	rows, cols, err := d.h.executor().Execute(ctx, statement, nil)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation})
	}
	if d.h.cacheManager != nil {
		tables := cache.ExtractTables(statement)
		table := ""
		if len(tables) > 0 {
			table = tables[0]
		}
		d.h.cacheManager.InvalidateCache(kind, table)
	}
	return ToolResult{Columns: cols, Rows: rows}
}

func (d *Dispatcher) batchExecute(ctx context.Context, req ToolRequest) ToolResult {
	statements := paramStringSlice(req.Params, "statements")
	if len(statements) == 0 {
		return d.fail(fmt.Errorf("batch-execute requires statements"), nil)
	}
	transactional := paramBool(req.Params, "transactional")

	if d.h.sqlValidator != nil {
		for _, stmt := range statements {
			if v := d.h.sqlValidator.ValidateQuery(stmt, nil); !v.Valid {
				return d.fail(fmt.Errorf("statement rejected: %s", strings.Join(v.Errors, "; ")),
					map[string]any{"operation": req.Operation, "riskLevel": v.Risk.String()})
			}
		}
	}

	results, err := d.h.executor().ExecuteBatch(ctx, statements, transactional)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation})
	}
	for _, stmt := range statements {
		d.invalidateAfterWrite(stmt)
	}
	data := make(map[string]interface{}, 1)
	data["results"] = results
	return ToolResult{Data: data}
}

// sqlLiteral renders v as a literal for statements batch-executed inside a
// transaction, where each statement carries no separate parameter slice.
// Strings are single-quote escaped; this is not a substitute for
// parameter binding and is only used for the batch-insert convenience
// path, never for execute-query/insert's primary (parameterized) path.
func sqlLiteral(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (d *Dispatcher) batchInsert(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	rowsParam, _ := req.Params["rows"].([]interface{})
	if table == "" || len(rowsParam) == 0 {
		return d.fail(fmt.Errorf("batch-insert requires a table and rows"), nil)
	}

	statements := make([]string, 0, len(rowsParam))
	for _, r := range rowsParam {
		values, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		cols := make([]string, 0, len(values))
		literals := make([]string, 0, len(values))
		for col, val := range values {
			cols = append(cols, col)
			literals = append(literals, sqlLiteral(val))
		}
		statements = append(statements, fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(literals, ", ")))
	}

	results, err := d.h.executor().ExecuteBatch(ctx, statements, true)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	if d.h.cacheManager != nil {
		d.h.cacheManager.InvalidateCache(cache.InvalidateInsert, table)
	}
	return ToolResult{Data: map[string]interface{}{"results": results}}
}

// --- long operations: submitted to the task engine ---

func (d *Dispatcher) backup(ctx context.Context, req ToolRequest) ToolResult {
	if d.h.taskEngine == nil {
		return d.fail(fmt.Errorf("task engine not configured"), nil)
	}
	tables := paramStringSlice(req.Params, "tables")
	op := func(rc *taskengine.RunContext, params map[string]any) (any, error) {
		dump := make(map[string][][]interface{})
		for i, table := range tables {
			rows, _, err := d.h.executor().Execute(rc, fmt.Sprintf("SELECT * FROM `%s`", table), nil)
			if err != nil {
				return nil, fmt.Errorf("backing up %s: %w", table, err)
			}
			dump[table] = rows
			rc.Report(float64(i+1)/float64(len(tables))*100, taskengine.StageDumping, fmt.Sprintf("backed up %s", table))
		}
		return dump, nil
	}
	id := d.h.taskEngine.Submit(taskengine.KindBackup, op, req.Params, 0, nil)
	return ToolResult{TaskID: id}
}

func (d *Dispatcher) verifyBackup(ctx context.Context, req ToolRequest) ToolResult {
	taskID := paramString(req.Params, "taskId")
	if d.h.taskEngine == nil {
		return d.fail(fmt.Errorf("task engine not configured"), nil)
	}
	task, ok := d.h.taskEngine.GetTask(taskID)
	if !ok {
		return d.fail(fmt.Errorf("backup task %s not found", taskID), nil)
	}
	data := map[string]interface{}{"status": task.Status.String()}
	if task.Status == taskengine.StatusCompleted {
		if dump, ok := task.Result.(map[string][][]interface{}); ok {
			tableCounts := make(map[string]int, len(dump))
			for table, rows := range dump {
				tableCounts[table] = len(rows)
			}
			data["rowCounts"] = tableCounts
		}
	}
	if task.Err != nil {
		data["error"] = task.Err.Error()
	}
	return ToolResult{Data: data}
}

func (d *Dispatcher) export(ctx context.Context, req ToolRequest) ToolResult {
	if d.h.taskEngine == nil {
		return d.fail(fmt.Errorf("task engine not configured"), nil)
	}
	query := paramString(req.Params, "query")
	op := func(rc *taskengine.RunContext, params map[string]any) (any, error) {
		rows, cols, err := d.h.executor().Execute(rc, query, nil)
		if err != nil {
			return nil, err
		}
		rc.Report(100, taskengine.StageCompleted, fmt.Sprintf("%d rows exported", len(rows)))
		return map[string]interface{}{"columns": cols, "rows": rows}, nil
	}
	id := d.h.taskEngine.Submit(taskengine.KindExport, op, req.Params, 0, nil)
	return ToolResult{TaskID: id}
}

func (d *Dispatcher) generateReport(ctx context.Context, req ToolRequest) ToolResult {
	if d.h.taskEngine == nil {
		return d.fail(fmt.Errorf("task engine not configured"), nil)
	}
	op := func(rc *taskengine.RunContext, params map[string]any) (any, error) {
		rc.Report(50, taskengine.StageProcessing, "gathering stats")
		cacheStats := d.h.GetCacheStats()
		validationStats := d.h.GetSQLValidationStats()
		report := map[string]interface{}{
			"generatedAt":     time.Now().Format(time.RFC3339),
			"cacheHits":       cacheStats.Hits,
			"cacheMisses":     cacheStats.Misses,
			"totalQueries":    validationStats.TotalQueries,
			"blockedQueries":  validationStats.BlockedQueries,
		}
		rc.Report(100, taskengine.StageCompleted, "report complete")
		return report, nil
	}
	id := d.h.taskEngine.Submit(taskengine.KindReport, op, req.Params, 0, nil)
	return ToolResult{TaskID: id}
}

func (d *Dispatcher) importData(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	rowsParam, _ := req.Params["rows"].([]interface{})
	if table == "" {
		return d.fail(fmt.Errorf("import requires a table"), nil)
	}

	run := func(rc *taskengine.RunContext, params map[string]any) (any, error) {
		imported := 0
		for i, r := range rowsParam {
			values, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			res := d.insert(ctx, ToolRequest{Operation: "insert", Params: map[string]interface{}{"table": table, "values": values}})
			if res.Error != "" {
				return imported, fmt.Errorf("row %d: %s", i, res.Error)
			}
			imported++
			if rc != nil {
				rc.Report(float64(i+1)/float64(len(rowsParam))*100, taskengine.StageInsertion, fmt.Sprintf("imported row %d", i+1))
			}
		}
		return imported, nil
	}

	if paramBool(req.Params, "queue") && d.h.taskEngine != nil {
		id := d.h.taskEngine.Submit(taskengine.KindExport, run, req.Params, 0, nil)
		return ToolResult{TaskID: id}
	}

	imported, err := run(nil, req.Params)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	return ToolResult{Data: map[string]interface{}{"imported": imported}}
}

// --- introspection / administration ---

func (d *Dispatcher) status(ctx context.Context, req ToolRequest) ToolResult {
	scope := paramString(req.Params, "scope")
	data := map[string]interface{}{"scope": scope}

	switch scope {
	case "queue":
		if d.h.taskEngine != nil {
			data["stats"] = d.h.taskEngine.GetStats()
		}
	case "connection":
		if d.h.heartbeatManager != nil {
			data["heartbeat"] = d.h.heartbeatManager.GetStats()
		}
	default:
		data["cache"] = d.h.GetCacheStats()
		data["validation"] = d.h.GetSQLValidationStats()
		if d.h.pressureBus != nil {
			data["pressure"] = d.h.pressureBus.GetCurrentPressure()
		}
		if d.h.taskEngine != nil {
			data["tasks"] = d.h.taskEngine.GetDiagnostics()
		}
	}
	return ToolResult{Data: data}
}

func (d *Dispatcher) analyzeError(ctx context.Context, req ToolRequest) ToolResult {
	message := paramString(req.Params, "message")
	rec := classify.Classify(fmt.Errorf("%s", message), req.Params)
	if d.h.sensitiveMask {
		rec.Message, _ = sensitive.Mask(rec.Message)
	}
	return ToolResult{Data: map[string]interface{}{
		"category":    string(rec.Category),
		"severity":    rec.Severity.String(),
		"recoverable": rec.Recoverable,
		"retryable":   rec.Retryable,
		"message":     rec.Message,
	}}
}

func (d *Dispatcher) securityAudit(ctx context.Context, req ToolRequest) ToolResult {
	data := map[string]interface{}{
		"validation": d.h.GetSQLValidationStats(),
	}
	if message := paramString(req.Params, "sample"); message != "" {
		_, summary := sensitive.Mask(message)
		data["sensitiveDetections"] = summary
	}
	return ToolResult{Data: data}
}

func (d *Dispatcher) manageIndexes(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	action := paramString(req.Params, "action")
	var query string
	switch action {
	case "list":
		query = fmt.Sprintf("SHOW INDEX FROM `%s`", table)
		rows, cols, err := d.readCached(ctx, query, nil)
		if err != nil {
			return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
		}
		return ToolResult{Columns: cols, Rows: rows}
	case "create":
		statement := paramString(req.Params, "statement")
		return d.ddl(ctx, ToolRequest{Operation: req.Operation, Params: map[string]interface{}{"statement": statement}}, cache.InvalidateAlter)
	case "drop":
		statement := paramString(req.Params, "statement")
		return d.ddl(ctx, ToolRequest{Operation: req.Operation, Params: map[string]interface{}{"statement": statement}}, cache.InvalidateAlter)
	default:
		return d.fail(fmt.Errorf("manage-indexes: unsupported action %q", action), nil)
	}
}

func (d *Dispatcher) performanceOptimize(ctx context.Context, req ToolRequest) ToolResult {
	table := paramString(req.Params, "table")
	if table == "" {
		return d.fail(fmt.Errorf("performance-optimize requires a table"), nil)
	}
	rows, cols, err := d.h.executor().Execute(ctx, fmt.Sprintf("ANALYZE TABLE `%s`", table), nil)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation, "table": table})
	}
	return ToolResult{Columns: cols, Rows: rows}
}

func (d *Dispatcher) manageUsers(ctx context.Context, req ToolRequest) ToolResult {
	statement := paramString(req.Params, "statement")
	if statement == "" {
		return d.fail(fmt.Errorf("manage-users requires a statement"), nil)
	}
	if d.h.sqlValidator != nil {
		if v := d.h.sqlValidator.ValidateQuery(statement, nil); !v.Valid {
			return d.fail(fmt.Errorf("statement rejected: %s", strings.Join(v.Errors, "; ")),
				map[string]any{"operation": req.Operation, "riskLevel": v.Risk.String()})
		}
	}
	rows, cols, err := d.h.executor().Execute(ctx, statement, nil)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation})
	}
	if d.h.cacheManager != nil {
		d.h.cacheManager.ClearAll()
	}
	return ToolResult{Columns: cols, Rows: rows}
}

func (d *Dispatcher) progressTracker(ctx context.Context, req ToolRequest) ToolResult {
	taskID := paramString(req.Params, "taskId")
	if d.h.trackerRegistry == nil {
		return d.fail(fmt.Errorf("task engine not configured"), nil)
	}
	tracker, ok := d.h.trackerRegistry.Get(taskID)
	if !ok {
		return d.fail(fmt.Errorf("no tracker for task %s", taskID), nil)
	}
	return ToolResult{Data: map[string]interface{}{
		"operation": tracker.Operation,
		"startTime": tracker.StartTime.Format(time.RFC3339),
		"percent":   tracker.Progress.Percent,
		"stage":     tracker.Progress.Stage,
		"message":   tracker.Progress.Message,
	}}
}

func (d *Dispatcher) optimizeMemory(ctx context.Context, req ToolRequest) ToolResult {
	if d.h.pressureBus == nil {
		return d.fail(fmt.Errorf("pressure bus not configured"), nil)
	}
	p := d.h.pressureBus.ForceSample()
	if d.h.cacheManager != nil {
		d.h.cacheManager.AdjustForMemoryPressure(p)
	}
	return ToolResult{Data: map[string]interface{}{"pressure": p}}
}

func (d *Dispatcher) manageQueue(ctx context.Context, req ToolRequest) ToolResult {
	if d.h.taskEngine == nil {
		return d.fail(fmt.Errorf("task engine not configured"), nil)
	}
	action := paramString(req.Params, "action")
	switch action {
	case "pause":
		d.h.taskEngine.Pause()
	case "resume":
		d.h.taskEngine.Resume()
	case "clearQueue":
		cleared := d.h.taskEngine.ClearQueue()
		return ToolResult{Data: map[string]interface{}{"cleared": cleared}}
	case "setMaxConcurrency":
		n, _ := req.Params["maxConcurrency"].(float64)
		d.h.taskEngine.SetMaxConcurrency(int(n))
	default:
		return d.fail(fmt.Errorf("manage-queue: unsupported action %q", action), nil)
	}
	return ToolResult{Data: map[string]interface{}{"stats": d.h.taskEngine.GetStats()}}
}

func (d *Dispatcher) replicationStatus(ctx context.Context, req ToolRequest) ToolResult {
	rows, cols, err := d.h.executor().Execute(ctx, "SHOW SLAVE STATUS", nil)
	if err != nil {
		return d.fail(err, map[string]any{"operation": req.Operation})
	}
	return ToolResult{Columns: cols, Rows: rows}
}
