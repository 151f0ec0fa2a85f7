package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/hlrs-121991-germany/cloudify-common/log"
)

// replyQueue holds the state shared by the blocking and callback RPC
// handlers: an exclusive, durable reply queue bound to the request
// exchange, auto-named if the caller did not supply one.
type replyQueue struct {
	Exchange       string
	ExchangeKind   string
	ReplyQueueName string
	Logger         log.Logger

	conn *Connection
	name string
}

func (r *replyQueue) declare(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(r.Exchange, r.ExchangeKind, true, false, false, false, nil); err != nil {
		return err
	}
	r.name = r.ReplyQueueName
	if r.name == "" {
		r.name = fmt.Sprintf("%s_response_%s", r.Exchange, randomSuffix())
	}
	if _, err := ch.QueueDeclare(r.name, true, false, true, false, nil); err != nil {
		return err
	}
	return ch.QueueBind(r.name, r.name, r.Exchange, false, nil)
}

// publishRequest sends message to target/routingKey with reply_to set to
// this handler's reply queue, the given correlation ID, and an optional
// expiration rendered as a decimal string of milliseconds.
func (r *replyQueue) publishRequest(ctx context.Context, routingKey, correlationID string, message map[string]any, expiration time.Duration, wait bool, timeout time.Duration) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	msg := Message{
		ContentType:   "application/json",
		ReplyTo:       r.name,
		CorrelationId: correlationID,
		Body:          body,
	}
	if expiration > 0 {
		msg.Expiration = strconv.FormatInt(expiration.Milliseconds(), 10)
	}
	return r.conn.Publish(ctx, r.Exchange, routingKey, msg, wait, timeout)
}

// RoutingKey implements Handler; for a reply-queue handler it is the
// binding key of its own reply queue.
func (r *replyQueue) RoutingKey() string { return r.name }

// BlockingRPCHandler publishes a request and blocks the caller until a
// correlated reply arrives or timeout elapses.
type BlockingRPCHandler struct {
	replyQueue

	mu      sync.Mutex
	pending map[string]chan map[string]any
}

// NewBlockingRPCHandler builds a blocking RPC handler publishing requests
// through exchange/kind, with its own auto-named reply queue unless
// replyQueueName is given.
func NewBlockingRPCHandler(exchange, kind, replyQueueName string) *BlockingRPCHandler {
	return &BlockingRPCHandler{
		replyQueue: replyQueue{
			Exchange:       exchange,
			ExchangeKind:   kind,
			ReplyQueueName: replyQueueName,
			Logger:         log.Discard(),
		},
		pending: make(map[string]chan map[string]any),
	}
}

func (h *BlockingRPCHandler) register(ctx context.Context, conn *Connection, ch *amqp091.Channel) error {
	h.conn = conn
	if err := h.declare(ch); err != nil {
		return err
	}
	consumeCh, err := conn.Channel()
	if err != nil {
		return err
	}
	deliveries, err := consumeCh.Consume(h.name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.pending = make(map[string]chan map[string]any)
	h.mu.Unlock()
	go h.dispatch(context.Background(), consumeCh, deliveries) // ctx is actor-marked; dispatch waits on acks
	return nil
}

func (h *BlockingRPCHandler) dispatch(ctx context.Context, ch *amqp091.Channel, deliveries <-chan amqp091.Delivery) {
	for d := range deliveries {
		_ = h.conn.Ack(ctx, ch, d.DeliveryTag, true, 0)
		var payload map[string]any
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			perr := &ParseError{Cause: err, Body: d.Body}
			h.Logger.WithField("error", perr).Error("dropping RPC reply with malformed JSON body")
			continue
		}
		h.mu.Lock()
		slot, ok := h.pending[d.CorrelationId]
		h.mu.Unlock()
		if !ok {
			h.Logger.WithField("correlation_id", d.CorrelationId).Warning("dropping RPC reply with unknown correlation id")
			continue
		}
		slot <- payload
	}
}

// Publish sends message and blocks up to timeout for a correlated reply.
// correlationID is generated if empty. The correlation table entry is
// always removed on return.
func (h *BlockingRPCHandler) Publish(ctx context.Context, routingKey string, message map[string]any, correlationID string, expiration, timeout time.Duration) (map[string]any, error) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	slot := make(chan map[string]any, 1)
	h.mu.Lock()
	h.pending[correlationID] = slot
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, correlationID)
		h.mu.Unlock()
	}()

	if err := h.publishRequest(ctx, routingKey, correlationID, message, expiration, true, timeout); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		return <-slot, nil
	}
	select {
	case resp := <-slot:
		return resp, nil
	case <-time.After(timeout):
		return nil, &NoResponseError{CorrelationID: correlationID}
	}
}

// CallbackRPCHandler publishes a request and invokes a registered callback
// when the correlated reply arrives, without blocking the publishing
// caller. Callbacks run on the handler's delivery dispatch goroutine and
// must not block.
type CallbackRPCHandler struct {
	replyQueue

	mu      sync.Mutex
	pending map[string]func(map[string]any)
}

// NewCallbackRPCHandler builds a callback RPC handler.
func NewCallbackRPCHandler(exchange, kind, replyQueueName string) *CallbackRPCHandler {
	return &CallbackRPCHandler{
		replyQueue: replyQueue{
			Exchange:       exchange,
			ExchangeKind:   kind,
			ReplyQueueName: replyQueueName,
			Logger:         log.Discard(),
		},
		pending: make(map[string]func(map[string]any)),
	}
}

func (h *CallbackRPCHandler) register(ctx context.Context, conn *Connection, ch *amqp091.Channel) error {
	h.conn = conn
	if err := h.declare(ch); err != nil {
		return err
	}
	consumeCh, err := conn.Channel()
	if err != nil {
		return err
	}
	deliveries, err := consumeCh.Consume(h.name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.pending = make(map[string]func(map[string]any))
	h.mu.Unlock()
	go h.dispatch(context.Background(), consumeCh, deliveries) // ctx is actor-marked; dispatch waits on acks
	return nil
}

func (h *CallbackRPCHandler) dispatch(ctx context.Context, ch *amqp091.Channel, deliveries <-chan amqp091.Delivery) {
	for d := range deliveries {
		_ = h.conn.Ack(ctx, ch, d.DeliveryTag, true, 0)
		var payload map[string]any
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			perr := &ParseError{Cause: err, Body: d.Body}
			h.Logger.WithField("error", perr).Error("dropping RPC reply with malformed JSON body")
			continue
		}
		h.mu.Lock()
		cb, ok := h.pending[d.CorrelationId]
		if ok {
			delete(h.pending, d.CorrelationId)
		}
		h.mu.Unlock()
		if !ok {
			h.Logger.WithField("correlation_id", d.CorrelationId).Warning("dropping RPC reply with unknown correlation id")
			continue
		}
		cb(payload)
	}
}

// Publish sends message and, if callback is non-nil, registers it to run
// when the correlated reply arrives. It returns as soon as the publish
// envelope has been submitted.
func (h *CallbackRPCHandler) Publish(ctx context.Context, routingKey string, message map[string]any, correlationID string, expiration time.Duration, callback func(map[string]any)) error {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	if callback != nil {
		h.mu.Lock()
		h.pending[correlationID] = callback
		h.mu.Unlock()
	}
	if err := h.publishRequest(ctx, routingKey, correlationID, message, expiration, false, 0); err != nil {
		return fmt.Errorf("publishing RPC request: %w", err)
	}
	return nil
}
