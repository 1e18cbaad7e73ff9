package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"github.com/streadway/amqp"

	"github.com/happydotemdr/hookrelay/internal/dal/rabbitmq"
	"github.com/happydotemdr/hookrelay/internal/service/models/entry"
)

// AMQPSink publishes dead-letter and pass-summary events to a RabbitMQ
// exchange so operators can alert on the failed partition growing. Publish
// errors are logged and swallowed: reporting must never affect queue state.
type AMQPSink struct {
	client   *rabbitmq.Client
	exchange string
}

// NewAMQPSink creates the sink and declares its exchange.
func NewAMQPSink(client *rabbitmq.Client) (*AMQPSink, error) {
	exchange := viper.GetString("rabbitmq.exchange")
	if exchange == "" {
		exchange = "hookrelay.events"
	}

	err := client.DeclareExchange(rabbitmq.DeclareExchangeConfig{
		Name:    exchange,
		Kind:    "topic",
		Durable: true,
	})
	if err != nil {
		return nil, err
	}

	return &AMQPSink{
		client:   client,
		exchange: exchange,
	}, nil
}

type entryFailedEvent struct {
	RequestID  string    `json:"request_id"`
	RetryCount int       `json:"retry_count"`
	Reason     string    `json:"reason"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	FailedAt   time.Time `json:"failed_at"`
}

// PassStarted is not published; per-pass noise stays in the logs.
func (s *AMQPSink) PassStarted(context.Context, entry.PartitionCounts) {}

// EntryDelivered is not published; successes are the normal case.
func (s *AMQPSink) EntryDelivered(context.Context, entry.QueueEntry, int) {}

// EntryRequeued is not published; requeues are expected operation.
func (s *AMQPSink) EntryRequeued(context.Context, entry.QueueEntry, time.Time, error) {}

// EntryFailed publishes a dead-letter event.
func (s *AMQPSink) EntryFailed(_ context.Context, e entry.QueueEntry, reason string) {
	s.publish("entry.failed", entryFailedEvent{
		RequestID:  e.RequestID,
		RetryCount: e.RetryCount,
		Reason:     reason,
		EnqueuedAt: e.EnqueuedAt,
		FailedAt:   time.Now(),
	})
}

// PassCompleted publishes the pass summary.
func (s *AMQPSink) PassCompleted(_ context.Context, summary entry.PassSummary) {
	s.publish("pass.completed", summary)
}

func (s *AMQPSink) publish(routingKey string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal queue event", "routing_key", routingKey, "error", err)

		return
	}

	err = s.client.Channel().Publish(
		s.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		slog.Error("Failed to publish queue event", "routing_key", routingKey, "error", err)
	}
}
