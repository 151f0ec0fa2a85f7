package amqp

import (
	"context"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// ScheduledExecutionHandler realises delayed delivery: a message parked on
// a TTL queue is dead-lettered to the target exchange once the TTL
// elapses, without any timer owned by this process.
type ScheduledExecutionHandler struct {
	SendHandler

	// TargetExchange and TargetRoutingKey are where the broker routes the
	// message once its TTL on the parking queue expires.
	TargetExchange   string
	TargetRoutingKey string

	// TTL is how long a message sits on the parking queue before being
	// dead-lettered to TargetExchange.
	TTL time.Duration
}

// NewScheduledExecutionHandler builds a handler whose parking queue is
// named after its own routing key.
func NewScheduledExecutionHandler(exchange, kind, routingKey, targetExchange, targetRoutingKey string, ttl time.Duration) *ScheduledExecutionHandler {
	return &ScheduledExecutionHandler{
		SendHandler:      *NewSendHandler(exchange, kind, routingKey),
		TargetExchange:   targetExchange,
		TargetRoutingKey: targetRoutingKey,
		TTL:              ttl,
	}
}

func (h *ScheduledExecutionHandler) register(ctx context.Context, conn *Connection, ch *amqp091.Channel) error {
	if err := h.SendHandler.register(ctx, conn, ch); err != nil {
		return err
	}
	opts := QueueOptions{
		MessageTTL:   &h.TTL,
		DLExchange:   h.TargetExchange,
		DLRoutingKey: h.TargetRoutingKey,
	}
	args := amqp091.Table(opts.AsArguments())
	if _, err := ch.QueueDeclare(h.Key, true, false, false, false, args); err != nil {
		return err
	}
	return ch.QueueBind(h.Key, h.Key, h.Exchange, false, nil)
}
