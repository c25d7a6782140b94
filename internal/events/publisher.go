package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPPublisher delivers events to RabbitMQ queues. Queues are declared
// durable and messages persistent, so notifications survive broker
// restarts. Every error path logs and returns without panicking; callers
// treat publish failures as lost notifications.
type AMQPPublisher struct {
	url    string
	logger *zap.Logger
}

// NewAMQPPublisher returns a publisher that dials the broker per publish.
func NewAMQPPublisher(url string, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{url: url, logger: logger}
}

// Publish sends one JSON message to the named queue.
func (publisher *AMQPPublisher) Publish(ctx context.Context, queue string, payload any) error {
	conn, err := amqp.Dial(publisher.url)
	if err != nil {
		publisher.logger.Warn("amqp dial failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	channel, err := conn.Channel()
	if err != nil {
		publisher.logger.Warn("amqp channel open failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	defer func() { _ = channel.Close() }()

	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		publisher.logger.Warn("amqp queue declare failed", zap.String("queue", queue), zap.Error(err))
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		publisher.logger.Warn("event marshal failed", zap.String("queue", queue), zap.Error(err))
		return err
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := channel.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		publisher.logger.Warn("amqp publish failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	return nil
}

// LogPublisher writes events to the log instead of a broker. Used when no
// AMQP url is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a log-backed publisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event payload.
func (publisher *LogPublisher) Publish(_ context.Context, queue string, payload any) error {
	publisher.logger.Info("event", zap.String("queue", queue), zap.Any("payload", payload))
	return nil
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, string, any) error { return nil }
