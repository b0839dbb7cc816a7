// Package queue carries normalized events over RabbitMQ when the relay runs
// split into a receiving server and a delivery worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"plane-relay/internal/models"
	"plane-relay/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(event models.NormalizedEvent) error
	Close() error
}

type RabbitMQ struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	exchangeName string
	queueName    string
	logger       *zap.Logger
}

func NewRabbitMQ(url, exchangeName, queueName string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %v", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %v", err)
	}

	err = ch.QueueBind(
		q.Name,
		"", // routing key
		exchangeName,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %v", err)
	}

	return &RabbitMQ{
		conn:         conn,
		ch:           ch,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger,
	}, nil
}

func (r *RabbitMQ) Publish(event models.NormalizedEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}

	headers := make(amqp.Table)
	headers["event_id"] = event.EventID
	headers["event_type"] = string(event.Type)

	err = r.ch.PublishWithContext(ctx,
		r.exchangeName,
		"",    // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Headers:      headers,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %v", err)
	}

	return nil
}

// Consume hands deliveries to the caller. Auto-ack is off; the worker acks
// terminal outcomes and nacks retryable faults back onto the queue.
func (r *RabbitMQ) Consume() (<-chan amqp.Delivery, error) {
	return r.ch.Consume(
		r.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
}

// StartDepthUpdater periodically reports the broker queue depth.
func (r *RabbitMQ) StartDepthUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if q, err := r.ch.QueueInspect(r.queueName); err == nil {
					metrics.QueueDepth.Set(float64(q.Messages))
				}
			}
		}
	}()
}

func (r *RabbitMQ) Close() error {
	if err := r.ch.Close(); err != nil {
		r.logger.Error("Failed to close channel", zap.Error(err))
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Error("Failed to close connection", zap.Error(err))
	}
	return nil
}
