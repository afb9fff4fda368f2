package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ToolRequest is the named-operation request shape accepted by the
// server's tool dispatcher, mirroring server.ToolRequest.
type ToolRequest struct {
	Operation string                 `json:"operation"`
	Params    map[string]interface{} `json:"params"`
}

// ToolResult is the tool dispatcher's response shape, mirroring
// server.ToolResult.
type ToolResult struct {
	Columns []string               `json:"columns,omitempty"`
	Rows    [][]interface{}        `json:"rows,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	TaskID  string                 `json:"taskId,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// ToolClient is a thin AMQP RPC client for the tool surface (schema
// inspection, batch operations, backups, task and memory-pressure
// introspection) that doesn't fit the database/sql query/exec shape the
// driver exposes. It opens its own channel per call, the same way
// Conn.queryRPC does for raw SQL.
type ToolClient struct {
	deviceID string
	conn     *amqp.Connection
	timeout  time.Duration
}

// NewToolClient wraps an existing AMQP connection (as produced by
// Connect/Open) for tool dispatch against deviceID.
func NewToolClient(conn *amqp.Connection, deviceID string, timeout time.Duration) *ToolClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ToolClient{deviceID: deviceID, conn: conn, timeout: timeout}
}

// Call submits a tool operation and blocks for its result.
func (tc *ToolClient) Call(ctx context.Context, operation string, params map[string]interface{}) (*ToolResult, error) {
	ch, err := tc.conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, tc.timeout)
	defer cancel()

	corrID := fmt.Sprintf("%d", time.Now().UnixNano())

	toolReq := ToolRequest{Operation: operation, Params: params}
	toolBody, err := json.Marshal(toolReq)
	if err != nil {
		return nil, fmt.Errorf("marshal tool request: %w", err)
	}

	req := map[string]interface{}{
		"type":     "tool",
		"deviceID": tc.deviceID,
		"query":    string(toolBody),
	}
	body, _ := json.Marshal(req)

	if err := ch.PublishWithContext(ctx, "", tc.deviceID, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       replyQueue.Name,
		Body:          body,
	}); err != nil {
		return nil, err
	}

	msgs, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, errors.New("timeout waiting for tool response")
	case msg := <-msgs:
		if msg.CorrelationId != corrID {
			return nil, errors.New("correlation id mismatch")
		}
		var result ToolResult
		if err := json.Unmarshal(msg.Body, &result); err != nil {
			return nil, err
		}
		if result.Error != "" {
			return nil, errors.New(result.Error)
		}
		return &result, nil
	}
}
