package client

import (
	"errors"

	"github.com/lordbasex/dbopscore/classify"
)

// RPCResponse represents the response structure received from a dbopscore
// server node. This structure defines the standardized format for all
// server responses, regardless of the operation type (SQL queries,
// function calls, system commands, or tool dispatch).
//
// The response follows a consistent tabular format where:
// - All results are represented as tables with named columns
// - Each row contains values corresponding to the column definitions
// - Errors are reported in a dedicated error field
//
// This design enables uniform handling of diverse operation types while
// maintaining compatibility with Go's database/sql interface expectations.
type RPCResponse struct {
	Columns []string        `json:"columns"` // Column names for the result table
	Rows    [][]interface{} `json:"rows"`    // Data rows, each containing values for all columns
	Error   string          `json:"error"`   // Error message if operation failed (empty on success)
}

// classifyError categorizes the server-reported Error string the same way
// the server classifies its own errors, so a caller can distinguish a
// retryable condition (lock wait timeout, deadlock) from one worth giving
// up on (syntax error, access denied) without string-matching Error itself.
func (r RPCResponse) classifyError(op string) classify.ErrorRecord {
	return classify.Classify(errors.New(r.Error), map[string]any{"operation": op})
}
