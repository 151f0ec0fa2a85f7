package amqp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyQueuePublishRequestSetsMessageProperties(t *testing.T) {
	conn := newTestConnection()
	rq := &replyQueue{Exchange: "rpc-ex", conn: conn, name: "reply-q"}

	err := rq.publishRequest(context.Background(), "do-work", "corr-42", map[string]any{"x": 1}, 2*time.Second, false, 0)
	require.NoError(t, err)

	e := conn.out.pop()
	require.NotNil(t, e)
	assert.Equal(t, "rpc-ex", e.args.exchange)
	assert.Equal(t, "do-work", e.args.routingKey)
	assert.Equal(t, "reply-q", e.args.message.ReplyTo)
	assert.Equal(t, "corr-42", e.args.message.CorrelationId)
	assert.Equal(t, "2000", e.args.message.Expiration)
}

func TestReplyQueuePublishRequestOmitsExpirationWhenZero(t *testing.T) {
	conn := newTestConnection()
	rq := &replyQueue{Exchange: "rpc-ex", conn: conn, name: "reply-q"}

	require.NoError(t, rq.publishRequest(context.Background(), "rk", "c1", map[string]any{}, 0, false, 0))

	e := conn.out.pop()
	require.NotNil(t, e)
	assert.Empty(t, e.args.message.Expiration)
}

func TestBlockingRPCHandlerPublishReturnsPublishFailure(t *testing.T) {
	h := NewBlockingRPCHandler("rpc-ex", "direct", "")
	h.conn = newTestConnection()
	h.name = "reply-q"

	start := time.Now()
	resp, err := h.Publish(context.Background(), "rk", map[string]any{}, "corr-1", 0, 20*time.Millisecond)
	assert.Nil(t, resp)
	assert.Error(t, err, "the publish itself is never drained so it must time out")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	h.mu.Lock()
	_, stillPending := h.pending["corr-1"]
	h.mu.Unlock()
	assert.False(t, stillPending, "the pending slot must be cleaned up on return")
}

// drainQueue emulates the actor's pump loop: it keeps popping envelopes off
// out and replying nil immediately, so a dispatch() call that blocks on a
// synchronous Ack does not hang with nobody servicing its outbound queue.
// It stops once stop is closed.
func drainQueue(out *outboundQueue, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if e := out.pop(); e != nil {
			e.reply(nil)
			continue
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBlockingRPCHandlerDispatchResolvesPendingSlot(t *testing.T) {
	h := NewBlockingRPCHandler("rpc-ex", "direct", "")
	h.conn = newTestConnection()
	h.name = "reply-q"

	stop := make(chan struct{})
	defer close(stop)
	go drainQueue(h.conn.out, stop)

	slot := make(chan map[string]any, 1)
	h.mu.Lock()
	h.pending["corr-9"] = slot
	h.mu.Unlock()

	body, err := json.Marshal(map[string]any{"answer": 42})
	require.NoError(t, err)

	deliveries := make(chan amqp091.Delivery, 1)
	deliveries <- amqp091.Delivery{CorrelationId: "corr-9", DeliveryTag: 1, Body: body}
	close(deliveries)

	h.dispatch(context.Background(), nil, deliveries)

	select {
	case resp := <-slot:
		assert.Equal(t, float64(42), resp["answer"])
	case <-time.After(time.Second):
		t.Fatal("pending slot was never resolved")
	}
}

func TestBlockingRPCHandlerDispatchDropsUnknownCorrelationID(t *testing.T) {
	h := NewBlockingRPCHandler("rpc-ex", "direct", "")
	h.conn = newTestConnection()
	h.name = "reply-q"

	stop := make(chan struct{})
	defer close(stop)
	go drainQueue(h.conn.out, stop)

	body, err := json.Marshal(map[string]any{"answer": 1})
	require.NoError(t, err)

	deliveries := make(chan amqp091.Delivery, 1)
	deliveries <- amqp091.Delivery{CorrelationId: "unknown", Body: body}
	close(deliveries)

	assert.NotPanics(t, func() { h.dispatch(context.Background(), nil, deliveries) })
}

func TestCallbackRPCHandlerPublishRegistersCallbackAndReturnsImmediately(t *testing.T) {
	h := NewCallbackRPCHandler("rpc-ex", "direct", "")
	h.conn = newTestConnection()
	h.name = "reply-q"

	called := make(chan map[string]any, 1)
	err := h.Publish(context.Background(), "rk", map[string]any{}, "corr-5", 0, func(resp map[string]any) {
		called <- resp
	})
	require.NoError(t, err)

	h.mu.Lock()
	_, ok := h.pending["corr-5"]
	h.mu.Unlock()
	assert.True(t, ok)

	e := h.conn.out.pop()
	require.NotNil(t, e)
	assert.Nil(t, e.replyTo, "callback RPC publish must not block the caller")
}

func TestCallbackRPCHandlerDispatchInvokesAndRemovesCallback(t *testing.T) {
	h := NewCallbackRPCHandler("rpc-ex", "direct", "")
	h.conn = newTestConnection()
	h.name = "reply-q"

	stop := make(chan struct{})
	defer close(stop)
	go drainQueue(h.conn.out, stop)

	called := make(chan map[string]any, 1)
	h.mu.Lock()
	h.pending["corr-7"] = func(resp map[string]any) { called <- resp }
	h.mu.Unlock()

	body, err := json.Marshal(map[string]any{"ok": true})
	require.NoError(t, err)
	deliveries := make(chan amqp091.Delivery, 1)
	deliveries <- amqp091.Delivery{CorrelationId: "corr-7", Body: body}
	close(deliveries)

	h.dispatch(context.Background(), nil, deliveries)

	select {
	case resp := <-called:
		assert.Equal(t, true, resp["ok"])
	case <-time.After(time.Second):
		t.Fatal("callback was never invoked")
	}

	h.mu.Lock()
	_, stillPending := h.pending["corr-7"]
	h.mu.Unlock()
	assert.False(t, stillPending)
}
