package queue

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"news_ingest/internal/domain"
)

// DispatchHandler processes one dispatch job. A nil return acks the
// message. An error drops the message without requeue: by then the
// delivery row already carries FAILED and the reconciler owns retries,
// so broker-level redelivery would only duplicate work.
type DispatchHandler interface {
	Dispatch(ctx context.Context, msg domain.DispatchMessage) error
}

// Consume blocks reading dispatch jobs from the queue until ctx is
// canceled or the channel closes.
func (r *RabbitMQ) Consume(ctx context.Context, handler DispatchHandler) error {
	deliveries, err := r.channel.Consume(
		r.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	r.logger.Info("consuming dispatch jobs", "queue", r.queueName)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("consumer stopped")
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("consume channel closed")
				return nil
			}
			r.handleDelivery(ctx, handler, delivery)
		}
	}
}

func (r *RabbitMQ) handleDelivery(ctx context.Context, handler DispatchHandler, delivery amqp.Delivery) {
	var msg domain.DispatchMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		r.logger.Error("malformed dispatch message, dropping", "error", err)
		_ = delivery.Nack(false, false)
		return
	}

	logger := r.logger.With("delivery_id", msg.DeliveryID, "run_id", msg.RunID)

	if err := handler.Dispatch(ctx, msg); err != nil {
		logger.Error("dispatch failed", "error", err)
		_ = delivery.Nack(false, false)
		return
	}

	if err := delivery.Ack(false); err != nil {
		logger.Error("ack failed", "error", err)
	}
}
