// Package events publishes task-lifecycle notifications onto RabbitMQ so
// operators and other devices can observe backup/export/report progress
// without polling the progress-tracker tool.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lordbasex/dbopscore/taskengine"
)

// AMQPSink publishes taskengine events to a fanout exchange, the same way
// the server publishes RPC responses: JSON body, PublishWithContext, no
// durability guarantees beyond the channel's lifetime.
type AMQPSink struct {
	ch       *amqp.Channel
	exchange string
	deviceID string
}

// NewAMQPSink declares exchange as a fanout exchange on ch and returns a
// sink ready to Subscribe to a taskengine.EventBus.
func NewAMQPSink(ch *amqp.Channel, exchange, deviceID string) (*AMQPSink, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		false, // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, err
	}
	return &AMQPSink{ch: ch, exchange: exchange, deviceID: deviceID}, nil
}

// taskEvent is the wire shape published for each task-lifecycle transition.
type taskEvent struct {
	DeviceID  string    `json:"deviceID"`
	Kind      string    `json:"kind"`
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"`
	Percent   float64   `json:"percent"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// newTaskEvent builds the wire shape for e, published as deviceID.
func newTaskEvent(deviceID string, e taskengine.Event) taskEvent {
	return taskEvent{
		DeviceID:  deviceID,
		Kind:      e.Kind.String(),
		TaskID:    e.TaskID,
		Status:    e.Task.Status.String(),
		Percent:   e.Progress.Percent,
		Stage:     string(e.Progress.Stage),
		Message:   e.Progress.Message,
		Timestamp: e.Progress.UpdatedAt,
	}
}

// OnEvent implements taskengine.Subscriber, publishing e to the exchange.
// A publish failure only logs; event delivery is best-effort and must
// never block or fail the task it describes.
func (s *AMQPSink) OnEvent(e taskengine.Event) {
	body, err := json.Marshal(newTaskEvent(s.deviceID, e))
	if err != nil {
		log.Printf("[events] failed to marshal task event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.ch.PublishWithContext(ctx, s.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		log.Printf("[events] failed to publish task event %s/%s: %v", e.Kind, e.TaskID, err)
	}
}
