package server

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Schema describes one table's columns, as returned by GetTableSchema.
type Schema struct {
	Table   string
	Columns []SchemaColumn
}

// SchemaColumn is one column's metadata from information_schema.
type SchemaColumn struct {
	Name     string
	Type     string
	Nullable bool
	Key      string
	Default  sql.NullString
}

// Result is the outcome of one statement in an ExecuteBatch call.
type Result struct {
	Columns      []string
	Rows         [][]interface{}
	RowsAffected int64
	Err          error
}

// DBExecutor is the dispatcher's collaborator for talking to the
// configured MySQL database, independent of how the connection is
// obtained (pooled or per-query).
type DBExecutor interface {
	Execute(ctx context.Context, query string, params []interface{}) ([][]interface{}, []string, error)
	ExecuteBatch(ctx context.Context, stmts []string, transactional bool) ([]Result, error)
	GetTableSchema(ctx context.Context, table string) (Schema, error)
}

// sqlExecutor implements DBExecutor over a *sql.DB for the dispatcher. It
// runs read statements through QueryContext and other statements through
// ExecContext, reporting affected_rows; the legacy "sql" request type
// (handleSQL) sends every statement through QueryContext instead.
type sqlExecutor struct {
	h *Handler
}

func newSQLExecutor(h *Handler) DBExecutor {
	return &sqlExecutor{h: h}
}

// executor returns the handler's database collaborator, building it on
// first use.
func (h *Handler) executor() DBExecutor {
	if h.dbExecutor == nil {
		h.dbExecutor = newSQLExecutor(h)
	}
	return h.dbExecutor
}

func (e *sqlExecutor) conn(ctx context.Context) (*sql.DB, func(), error) {
	if e.h.mode == "open" {
		return e.h.db, func() {}, nil
	}
	db, err := sql.Open("mysql", e.h.mysqlDSN)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

func isReadStatement(query string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	for _, verb := range []string{"SELECT", "SHOW", "DESCRIBE", "DESC ", "EXPLAIN"} {
		if strings.HasPrefix(trimmed, verb) {
			return true
		}
	}
	return false
}

func (e *sqlExecutor) Execute(ctx context.Context, query string, params []interface{}) ([][]interface{}, []string, error) {
	db, closer, err := e.conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer closer()

	if !isReadStatement(query) {
		res, err := db.ExecContext(ctx, query, params...)
		if err != nil {
			return nil, nil, err
		}
		affected, _ := res.RowsAffected()
		return [][]interface{}{{affected}}, []string{"affected_rows"}, nil
	}

	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}

	var data [][]interface{}
	for rows.Next() {
		scanDest := make([]interface{}, len(cols))
		for i := range scanDest {
			scanDest[i] = new(interface{})
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, nil, err
		}
		row := make([]interface{}, len(cols))
		for i, val := range scanDest {
			row[i] = e.h.convertDatabaseValue(*(val.(*interface{})), colTypes[i])
		}
		data = append(data, row)
	}
	return data, cols, rows.Err()
}

// ExecuteBatch runs stmts in sequence, optionally wrapped in a single
// transaction so that a failure rolls every prior statement in the batch
// back. Each statement's own result (or error) is reported independently
// when transactional is false.
func (e *sqlExecutor) ExecuteBatch(ctx context.Context, stmts []string, transactional bool) ([]Result, error) {
	db, closer, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer closer()

	results := make([]Result, 0, len(stmts))

	if !transactional {
		for _, stmt := range stmts {
			rows, cols, err := e.Execute(ctx, stmt, nil)
			results = append(results, Result{Columns: cols, Rows: rows, Err: err})
		}
		return results, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch transaction: %w", err)
	}
	for _, stmt := range stmts {
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			tx.Rollback()
			return results, fmt.Errorf("batch statement failed, rolled back: %w", err)
		}
		affected, _ := res.RowsAffected()
		results = append(results, Result{RowsAffected: affected})
	}
	if err := tx.Commit(); err != nil {
		return results, fmt.Errorf("commit batch transaction: %w", err)
	}
	return results, nil
}

func (e *sqlExecutor) GetTableSchema(ctx context.Context, table string) (Schema, error) {
	db, closer, err := e.conn(ctx)
	if err != nil {
		return Schema{}, err
	}
	defer closer()

	rows, err := db.QueryContext(ctx, `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY, COLUMN_DEFAULT
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return Schema{}, err
	}
	defer rows.Close()

	schema := Schema{Table: table}
	for rows.Next() {
		var col SchemaColumn
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Key, &col.Default); err != nil {
			return Schema{}, err
		}
		col.Nullable = nullable == "YES"
		schema.Columns = append(schema.Columns, col)
	}
	return schema, rows.Err()
}
