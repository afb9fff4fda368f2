package client

import (
	"database/sql/driver"
	"io"
)

// Rows adapts the tabular result a dbopscore server node returns over AMQP
// (a flat Columns/Rows pair, already fully materialized in the RPC
// response) to the driver.Rows interface database/sql expects.
type Rows struct {
	columns []string
	rows    [][]interface{}
	pos     int
}

func (r *Rows) Columns() []string {
	return r.columns
}

func (r *Rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	for i, val := range r.rows[r.pos] {
		dest[i] = val
	}
	r.pos++
	return nil
}

func (r *Rows) Close() error {
	return nil
}
