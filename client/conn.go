package client

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn implements database/sql/driver.Conn over a reconnecting AMQP
// connection. Queries are RPC calls: publish a request to the device
// queue, wait on an exclusive reply queue for the correlated response.
type Conn struct {
	deviceID     string
	connMgr      *ConnectionManager
	config       *DSNConfig
	heartbeatMgr *HeartbeatManager

	mutex     sync.Mutex
	activeTx  *Tx
}

// setupHeartbeat starts the connection's heartbeat manager when the DSN
// enabled it, wiring disconnect detection back into the connection
// manager's reconnect loop.
func (c *Conn) setupHeartbeat() {
	if c.config.HeartbeatConfig == nil || !c.config.HeartbeatConfig.Enabled {
		return
	}
	c.heartbeatMgr = NewHeartbeatManager(c.connMgr, c.deviceID, getOutboundIP(), c.config.HeartbeatConfig)
	c.heartbeatMgr.SetCallbacks(func(err error) {
		c.logf("heartbeat detected dead connection: %v", err)
	}, nil)
	c.heartbeatMgr.ActivateHeartbeat()
}

func (c *Conn) logf(format string, args ...interface{}) {
	if c.config != nil && c.config.Debug {
		log.Printf("[client debug] "+format, args...)
	}
}

func (c *Conn) clearFinishedTransaction() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.activeTx = nil
}

func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query, numInput: countPlaceholders(query)}, nil
}

func (c *Conn) Close() error {
	if c.heartbeatMgr != nil {
		c.heartbeatMgr.Stop()
	}
	return c.connMgr.Close()
}

func (c *Conn) Begin() (driver.Tx, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.activeTx != nil && c.activeTx.IsActive() {
		return nil, errors.New("a transaction is already active on this connection")
	}

	tx := newTransaction(c)
	if err := tx.executeTransactionCommand("BEGIN"); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.activeTx = tx
	return tx, nil
}

func (c *Conn) Query(query string, args []driver.Value) (driver.Rows, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return c.queryRPC(ctx, query, named)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.queryRPC(ctx, query, args)
}

func (c *Conn) queryRPC(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.heartbeatMgr != nil {
		c.heartbeatMgr.ActivateHeartbeat()
	}

	amqpConn, err := c.connMgr.GetConnection()
	if err != nil {
		return nil, fmt.Errorf("no active connection: %w", err)
	}

	ch, err := amqpConn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}

	corrID := fmt.Sprintf("%d", time.Now().UnixNano())

	req := map[string]interface{}{
		"type":     "sql",
		"deviceID": c.deviceID,
		"query":    query,
		"params":   argsToSlice(args),
	}

	body, _ := json.Marshal(req)

	err = ch.PublishWithContext(ctx, "", c.deviceID, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       replyQueue.Name,
		Body:          body,
	})
	if err != nil {
		return nil, err
	}

	msgs, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, errors.New("timeout waiting for device response")
	case msg := <-msgs:
		if msg.CorrelationId != corrID {
			return nil, errors.New("correlation id mismatch")
		}
		var resp RPCResponse
		if err := json.Unmarshal(msg.Body, &resp); err != nil {
			return nil, err
		}
		if resp.Error != "" {
			rec := resp.classifyError("query")
			if c.config.Debug {
				log.Printf("[client debug] query error classified as %s (retryable=%v): %s", rec.Category, rec.Retryable, resp.Error)
			}
			return nil, errors.New(resp.Error)
		}
		return &Rows{columns: resp.Columns, rows: resp.Rows}, nil
	}
}

func argsToSlice(args []driver.NamedValue) []interface{} {
	var out []interface{}
	for _, a := range args {
		out = append(out, a.Value)
	}
	return out
}

// getOutboundIP returns the local IP address used for outbound
// connections, for inclusion in heartbeat and transaction logging.
func getOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "unknown"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
