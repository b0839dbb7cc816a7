// Package worker drains the broker queue in queue-mode deployments and runs
// each event through the relay pipeline.
package worker

import (
	"context"
	"encoding/json"

	"plane-relay/internal/models"
	"plane-relay/internal/relay"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer hands out the broker delivery stream. Satisfied by
// queue.RabbitMQ; tests substitute a plain channel.
type Consumer interface {
	Consume() (<-chan amqp.Delivery, error)
}

type Worker struct {
	broker Consumer
	relay  *relay.Relay
	logger *zap.Logger
}

func NewWorker(broker Consumer, r *relay.Relay, logger *zap.Logger) *Worker {
	return &Worker{
		broker: broker,
		relay:  r,
		logger: logger,
	}
}

// Start consumes until the channel closes. Terminal relay outcomes
// (delivered, duplicate, permanent failure) ack the message; internal
// faults nack it back onto the queue for another try.
func (w *Worker) Start(ctx context.Context) error {
	msgs, err := w.broker.Consume()
	if err != nil {
		return err
	}

	go w.run(ctx, msgs)
	return nil
}

func (w *Worker) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for msg := range msgs {
		var event models.NormalizedEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			w.logger.Error("Failed to unmarshal queued event",
				zap.Error(err),
				zap.String("body", string(msg.Body)))
			msg.Nack(false, false)
			continue
		}
		if event.EventID == "" {
			w.logger.Error("Queued event carries no event id, dropping",
				zap.String("body", string(msg.Body)))
			msg.Nack(false, false)
			continue
		}

		outcome, err := w.relay.Process(ctx, event)
		if outcome == relay.OutcomeInternalFault {
			w.logger.Error("Relay fault, requeueing event",
				zap.Error(err),
				zap.String("event_id", event.EventID))
			msg.Nack(false, true)
			continue
		}

		w.logger.Info("Queued event processed",
			zap.String("event_id", event.EventID),
			zap.String("outcome", string(outcome)))
		msg.Ack(false)
	}
}
