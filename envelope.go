package amqp

import (
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// method names accepted by an envelope. These mirror the broker operations
// the connection actor is willing to perform on behalf of a caller.
type method string

const (
	methodPublish         method = "publish"
	methodBasicAck        method = "basic_ack"
	methodQueueDeclare    method = "queue_declare"
	methodQueueDelete     method = "queue_delete"
	methodQueueBind       method = "queue_bind"
	methodExchangeDeclare method = "exchange_declare"
	methodExchangeDelete  method = "exchange_delete"
	methodBasicConsume    method = "basic_consume"
	methodBasicQos        method = "basic_qos"
	methodConfirmDelivery method = "confirm_delivery"
)

// envelope is a unit of work submitted to the connection actor. A nil
// replyTo means the caller does not wait for an outcome (wait=false); any
// error on such an envelope is only logged.
type envelope struct {
	method  method
	channel *amqp091.Channel // explicit target channel, nil uses the actor's shared out-channel
	args    methodArgs
	replyTo chan error // single-use reply slot, nil when fire-and-forget
}

// methodArgs carries the keyed arguments for one envelope method. Only the
// fields relevant to envelope.method are populated; this is a closed set
// read by dispatchMethod's switch on the method name rather than an
// interface{} bag, since the method
// vocabulary here is fixed and small.
type methodArgs struct {
	// publish
	exchange   string
	routingKey string
	mandatory  bool
	message    Message

	// basic_ack
	deliveryTag uint64
	multiple    bool

	// queue_declare / queue_delete / queue_bind
	queueName  string
	durable    bool
	autoDelete bool
	exclusive  bool
	noWait     bool
	arguments  amqp091.Table

	// exchange_declare / exchange_delete
	exchangeKind string

	// basic_consume
	consumerTag string
	autoAck     bool

	// basic_qos
	prefetchCount int
	prefetchSize  int

	// confirm_delivery has no arguments.
}

// outboundQueue is the FIFO hand-off between producer goroutines and the
// connection actor. A single pushback slot realises "requeue to the front"
// on a connection-closed failure mid-drain, without needing to splice a
// slice or use a deque library for a one-element case.
type outboundQueue struct {
	mu       sync.Mutex
	pushback *envelope
	items    []*envelope
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{}
}

// push appends an envelope to the back of the queue. Safe for concurrent
// callers; this is the only synchronization point between producers and
// the actor.
func (q *outboundQueue) push(e *envelope) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
}

// pushFront re-queues an envelope to the front, used for head-of-line
// pushback when a connection-closed error interrupts the drain.
func (q *outboundQueue) pushFront(e *envelope) {
	q.mu.Lock()
	q.pushback = e
	q.mu.Unlock()
}

// pop removes and returns the next envelope, or nil if the queue is empty.
// The pushback slot always wins over the main queue.
func (q *outboundQueue) pop() *envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushback != nil {
		e := q.pushback
		q.pushback = nil
		return e
	}
	if len(q.items) == 0 {
		return nil
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e
}

// reply delivers an outcome to the envelope's reply slot, if any. It never
// blocks: reply slots are single-buffered, and an outcome that finds the
// slot already full (an envelope requeued after a connection loss whose
// first outcome was never read) is dropped.
func (e *envelope) reply(err error) {
	if e.replyTo == nil {
		return
	}
	select {
	case e.replyTo <- err:
	default:
	}
}
