package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundQueueFIFO(t *testing.T) {
	q := newOutboundQueue()
	require.Nil(t, q.pop())

	e1 := &envelope{method: methodPublish}
	e2 := &envelope{method: methodBasicAck}
	q.push(e1)
	q.push(e2)

	assert.Same(t, e1, q.pop())
	assert.Same(t, e2, q.pop())
	assert.Nil(t, q.pop())
}

func TestOutboundQueuePushbackWinsOverFIFO(t *testing.T) {
	q := newOutboundQueue()
	queued := &envelope{method: methodPublish}
	q.push(queued)

	requeued := &envelope{method: methodBasicAck}
	q.pushFront(requeued)

	assert.Same(t, requeued, q.pop(), "pushback slot must be served before the main FIFO")
	assert.Same(t, queued, q.pop())
	assert.Nil(t, q.pop())
}

func TestEnvelopeReplyIsNoopWithoutReplyTo(t *testing.T) {
	e := &envelope{method: methodPublish}
	assert.NotPanics(t, func() { e.reply(nil) })
}

func TestEnvelopeReplyDeliversOnce(t *testing.T) {
	e := &envelope{method: methodPublish, replyTo: make(chan error, 1)}
	e.reply(ErrTimeout)
	select {
	case err := <-e.replyTo:
		assert.ErrorIs(t, err, ErrTimeout)
	default:
		t.Fatal("expected a value on replyTo")
	}
}
