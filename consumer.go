package amqp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/hlrs-121991-germany/cloudify-common/log"
)

// bufferedTask is a delivery waiting for a pool slot.
type bufferedTask struct {
	delivery amqp091.Delivery
	payload  map[string]any
}

// TaskConsumer declares a durable work queue bound to an exchange, and
// processes deliveries through a bounded worker pool. Deliveries that fail
// to parse as JSON are dropped without an ack; the broker redelivers them
// once the channel is lost, which is the documented trade-off for not
// blocking the consumer on a single malformed message.
type TaskConsumer struct {
	Exchange     string
	ExchangeKind string
	Key          string

	// PoolSize bounds concurrent HandleTask executions. Defaults to 5.
	PoolSize int

	// LateAck delays the ack until after HandleTask returns, instead of
	// acking immediately on admission to the pool.
	LateAck bool

	// HandleTask processes one delivery's JSON payload and returns the
	// result to report back to the caller, if any.
	HandleTask func(ctx context.Context, payload map[string]any) (any, error)

	AckTimeout     time.Duration
	PublishTimeout time.Duration
	Logger         log.Logger

	conn *Connection
	sem  *semaphore.Weighted

	bufMu sync.Mutex
	buf   []bufferedTask
}

// NewTaskConsumer builds a TaskConsumer with the default pool size of 5.
func NewTaskConsumer(exchange, kind, routingKey string, handle func(context.Context, map[string]any) (any, error)) *TaskConsumer {
	return &TaskConsumer{
		Exchange:     exchange,
		ExchangeKind: kind,
		Key:          routingKey,
		PoolSize:     5,
		HandleTask:   handle,
		Logger:       log.Discard(),
	}
}

// RoutingKey implements Handler.
func (tc *TaskConsumer) RoutingKey() string { return tc.Key }

func (tc *TaskConsumer) queueName() string {
	return tc.Exchange + "_" + tc.Key
}

func (tc *TaskConsumer) register(ctx context.Context, conn *Connection, ch *amqp091.Channel) error {
	tc.conn = conn
	if tc.PoolSize <= 0 {
		tc.PoolSize = 5
	}

	if err := ch.ExchangeDeclare(tc.Exchange, tc.ExchangeKind, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(tc.queueName(), true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(tc.queueName(), tc.Key, tc.Exchange, false, nil); err != nil {
		return err
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := consumeCh.Qos(tc.PoolSize, 0, false); err != nil {
		return err
	}
	if err := consumeCh.Confirm(false); err != nil {
		return err
	}
	deliveries, err := consumeCh.Consume(tc.queueName(), "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	tc.sem = semaphore.NewWeighted(int64(tc.PoolSize))
	tc.bufMu.Lock()
	tc.buf = nil
	tc.bufMu.Unlock()

	// ctx is marked as the actor's own and may be cancelled once the connect
	// phase ends; the dispatch goroutine waits on acks and replies, so it
	// runs under a context of its own.
	go tc.dispatch(context.Background(), consumeCh, deliveries)
	return nil
}

func (tc *TaskConsumer) dispatch(ctx context.Context, ch *amqp091.Channel, deliveries <-chan amqp091.Delivery) {
	for d := range deliveries {
		tc.handleDelivery(ctx, ch, d)
	}
}

func (tc *TaskConsumer) handleDelivery(ctx context.Context, ch *amqp091.Channel, d amqp091.Delivery) {
	var payload map[string]any
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		perr := &ParseError{Cause: err, Body: d.Body}
		tc.Logger.WithField("error", perr).Error("dropping delivery with malformed JSON body")
		return
	}
	if tc.sem.TryAcquire(1) {
		go tc.runWorker(ctx, ch, d, payload)
		return
	}
	tc.bufMu.Lock()
	tc.buf = append(tc.buf, bufferedTask{delivery: d, payload: payload})
	tc.bufMu.Unlock()
}

func (tc *TaskConsumer) runWorker(ctx context.Context, ch *amqp091.Channel, d amqp091.Delivery, payload map[string]any) {
	defer tc.release(ctx, ch)

	if !tc.LateAck {
		_ = tc.conn.Ack(ctx, ch, d.DeliveryTag, true, tc.AckTimeout)
	}

	result, err := tc.HandleTask(ctx, payload)
	var response map[string]any
	switch {
	case err != nil:
		tc.Logger.WithField("error", err).Error("task handler failed")
		response = map[string]any{"ok": false, "error": err.Error()}
	case result == nil:
		response = map[string]any{"ok": true}
	default:
		if m, ok := result.(map[string]any); ok {
			response = m
		} else {
			response = map[string]any{"ok": true, "result": result}
		}
	}

	if tc.LateAck {
		_ = tc.conn.Ack(ctx, ch, d.DeliveryTag, true, tc.AckTimeout)
	}

	if d.ReplyTo != "" {
		body, merr := json.Marshal(response)
		if merr != nil {
			tc.Logger.WithField("error", merr).Error("failed to encode task response")
			return
		}
		_ = tc.conn.Publish(ctx, tc.Exchange, d.ReplyTo, Message{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          body,
		}, true, tc.PublishTimeout)
	}
}

// release hands the freed slot directly to the next buffered task, if any,
// rather than releasing the semaphore and letting a new delivery race for
// it; this avoids a lost-wakeup window between release and re-acquire.
func (tc *TaskConsumer) release(ctx context.Context, ch *amqp091.Channel) {
	tc.bufMu.Lock()
	if len(tc.buf) > 0 {
		next := tc.buf[0]
		tc.buf = tc.buf[1:]
		tc.bufMu.Unlock()
		go tc.runWorker(ctx, ch, next.delivery, next.payload)
		return
	}
	tc.bufMu.Unlock()
	tc.sem.Release(1)
}
