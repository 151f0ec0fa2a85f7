package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/hlrs-121991-germany/cloudify-common/log"
)

// Handler is a pluggable consumer or publisher bound to a connection actor.
// register is invoked once per successful (re)connect, in the handler's
// insertion order; it MUST re-declare every broker object the handler
// depends on, since nothing survives a reconnect on the broker side.
type Handler interface {
	register(ctx context.Context, conn *Connection, ch *amqp091.Channel) error

	// RoutingKey is the routing key this handler publishes or binds with.
	RoutingKey() string
}

// SendHandler declares a durable, non-auto-deleted exchange on register and
// publishes JSON-encoded messages to it. Publishing blocks for broker
// confirmation unless WaitForPublish is false, as is the case for
// NoWaitSendHandler.
type SendHandler struct {
	Exchange       string
	ExchangeKind   string
	Key            string
	WaitForPublish bool
	PublishTimeout time.Duration
	Logger         log.Logger

	conn *Connection
}

// NewSendHandler builds a SendHandler that waits for publisher confirmation
// on every Publish call.
func NewSendHandler(exchange, kind, routingKey string) *SendHandler {
	return &SendHandler{
		Exchange:       exchange,
		ExchangeKind:   kind,
		Key:            routingKey,
		WaitForPublish: true,
		Logger:         log.Discard(),
	}
}

// NewNoWaitSendHandler builds a SendHandler whose publishes are
// fire-and-forget; still ordered through the actor's outbound queue.
func NewNoWaitSendHandler(exchange, kind, routingKey string) *SendHandler {
	h := NewSendHandler(exchange, kind, routingKey)
	h.WaitForPublish = false
	return h
}

// RoutingKey implements Handler.
func (h *SendHandler) RoutingKey() string { return h.Key }

func (h *SendHandler) register(_ context.Context, conn *Connection, ch *amqp091.Channel) error {
	h.conn = conn
	return ch.ExchangeDeclare(h.Exchange, h.ExchangeKind, true, false, false, false, nil)
}

// logLevel resolves the "level" field of a message payload (default info).
func logLevel(v any) log.Level {
	s, _ := v.(string)
	switch s {
	case "debug":
		return log.Debug
	case "warning":
		return log.Warning
	case "error":
		return log.Error
	default:
		return log.Info
	}
}

// emitLogSink mirrors the out-of-band log emission SendHandler performs
// alongside a publish, for payloads shaped as
// {"message": {"text": "..."}, "level": "...", "execution_id": "..."}.
func (h *SendHandler) emitLogSink(payload map[string]any) {
	inner, ok := payload["message"].(map[string]any)
	if !ok {
		return
	}
	text, _ := inner["text"].(string)
	if text == "" {
		return
	}
	if eid, ok := payload["execution_id"].(string); ok && eid != "" {
		text = fmt.Sprintf("[%s] %s", eid, text)
	}
	h.Logger.Print(logLevel(payload["level"]), text)
}

// Publish JSON-encodes payload and submits it to the actor's outbound
// queue. It also emits payload's textual message, if shaped as a log
// frame, to the handler's logger.
func (h *SendHandler) Publish(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.emitLogSink(payload)
	return h.conn.Publish(ctx, h.Exchange, h.Key, Message{
		ContentType: "application/json",
		Body:        body,
	}, h.WaitForPublish, h.PublishTimeout)
}
