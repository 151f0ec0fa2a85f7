package amqp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// drainInterval bounds how long the actor goes between outbound-queue
// drains while otherwise idle on inbound broker events.
const drainInterval = 200 * time.Millisecond

type actorCtxKey struct{}

// actorContext marks a context as originating from the actor's own
// goroutine (used while invoking a handler's register callback). A
// synchronous channelMethod call made with such a context is a programming
// error: the actor would be blocking on itself.
func actorContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, true)
}

func isActorContext(ctx context.Context) bool {
	v, _ := ctx.Value(actorCtxKey{}).(bool)
	return v
}

// Connection is the connection actor: the single owner of the broker
// connection and its shared out-channel. All broker operations, from any
// number of caller goroutines, are funneled through its outbound queue.
type Connection struct {
	opts BrokerOptions
	cfg  connConfig

	out        *outboundQueue
	handlersMu sync.Mutex
	handlers   []Handler

	connMu    sync.RWMutex
	conn      *amqp091.Connection
	ch        *amqp091.Channel
	connected bool

	confirmMu      sync.Mutex
	confirmWaiters map[uint64]chan confirmOutcome

	closed       atomic.Bool
	closeSignal  chan struct{}
	doneSignal   chan struct{}
	startResult  chan error
	startReport  sync.Once
	startCalled  atomic.Bool
	firstConnect bool
}

// NewConnection builds a connection actor against the given broker options.
// Call Start to begin connecting.
func NewConnection(opts BrokerOptions, options ...Option) *Connection {
	cfg := defaultConnConfig()
	for _, o := range options {
		o(&cfg)
	}
	return &Connection{
		opts:           opts,
		cfg:            cfg,
		out:            newOutboundQueue(),
		confirmWaiters: make(map[uint64]chan confirmOutcome),
		closeSignal:    make(chan struct{}),
		doneSignal:     make(chan struct{}),
		startResult:    make(chan error, 1),
		firstConnect:   true,
	}
}

// Start spawns the actor goroutine and blocks the caller until either the
// first register pass succeeds or the first connect attempt fails past
// BrokerOptions.ConnectTimeout.
func (c *Connection) Start(ctx context.Context) error {
	if !c.startCalled.CompareAndSwap(false, true) {
		return ErrMisuse
	}
	go c.run(ctx)
	select {
	case err := <-c.startResult:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddHandler appends h to the registration list and, if a connection is
// currently live, registers it immediately.
func (c *Connection) AddHandler(h Handler) error {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, h)
	c.handlersMu.Unlock()

	c.connMu.RLock()
	live, ch := c.connected, c.ch
	c.connMu.RUnlock()
	if !live {
		return nil
	}
	return h.register(actorContext(context.Background()), c, ch)
}

// Channel returns a fresh channel on the live connection. It fails with
// ErrClosedClient if the actor is closed, or ErrNotConnected if no
// connection has been established yet.
func (c *Connection) Channel() (*amqp091.Channel, error) {
	if c.closed.Load() {
		return nil, ErrClosedClient
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if !c.connected || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn.Channel()
}

// channelMethod enqueues a method invocation for the actor to perform.
// When wait is true the call blocks on a single-use reply slot up to
// timeout (zero means no deadline). Calling with wait=true from within the
// actor's own goroutine (e.g. from a handler's register callback) is
// rejected with ErrMisuse rather than deadlocking.
func (c *Connection) channelMethod(ctx context.Context, m method, target *amqp091.Channel, wait bool, timeout time.Duration, args methodArgs) error {
	if c.closed.Load() {
		return ErrClosedClient
	}
	if wait && isActorContext(ctx) {
		return ErrMisuse
	}

	e := &envelope{method: m, channel: target, args: args}
	if wait {
		e.replyTo = make(chan error, 1)
	}
	c.out.push(e)
	if !wait {
		return nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case err := <-e.replyTo:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Publish is sugar for channelMethod("publish", ...).
func (c *Connection) Publish(ctx context.Context, exchange, routingKey string, msg Message, wait bool, timeout time.Duration) error {
	return c.channelMethod(ctx, methodPublish, nil, wait, timeout, methodArgs{
		exchange:   exchange,
		routingKey: routingKey,
		message:    msg,
	})
}

// Ack is sugar for channelMethod("basic_ack", ...).
func (c *Connection) Ack(ctx context.Context, target *amqp091.Channel, deliveryTag uint64, wait bool, timeout time.Duration) error {
	return c.channelMethod(ctx, methodBasicAck, target, wait, timeout, methodArgs{deliveryTag: deliveryTag})
}

// Close marks the actor closed. If wait is true it blocks until the actor
// goroutine has fully exited; if Start was never called there is no actor
// goroutine and Close returns at once.
func (c *Connection) Close(wait bool) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeSignal)
	if wait && c.startCalled.Load() {
		<-c.doneSignal
	}
	return nil
}

func (c *Connection) reportStart(err error) {
	c.startReport.Do(func() {
		c.startResult <- err
	})
}

// run is the actor's main loop: connect phase, pump phase, repeated on
// every reconnect, followed by a final shutdown phase.
func (c *Connection) run(ctx context.Context) {
	defer close(c.doneSignal)

	hosts := c.opts
	iter := newHostIterator(hosts.Hosts)
	bk := newBackoff()

	for {
		if c.closed.Load() {
			break
		}

		connectCtx := ctx
		var cancel context.CancelFunc
		if c.firstConnect && hosts.ConnectTimeout > 0 {
			connectCtx, cancel = context.WithTimeout(ctx, hosts.ConnectTimeout)
		}
		err := c.connectPhase(connectCtx, &hosts, iter, bk)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			c.reportStart(err)
			if c.firstConnect {
				return
			}
			if c.closed.Load() {
				return
			}
			continue
		}

		c.reportStart(nil)
		c.firstConnect = false

		c.pumpPhase(ctx)
		if c.closed.Load() {
			break
		}
		// connection was lost mid-pump; loop back to the connect phase.
	}
	c.shutdownPhase()
}

// connectPhase loops over the host iterator, attempting a blocking dial on
// each candidate, sleeping the current backoff between failures. It
// returns nil once connected and all handlers are re-registered, or a
// *ConnectError once connectCtx is done and no attempt has succeeded.
func (c *Connection) connectPhase(connectCtx context.Context, opts *BrokerOptions, iter *hostIterator, bk *backoff) error {
	attempts := 0
	var lastErr error
	for {
		if c.closed.Load() {
			return ErrClosedClient
		}
		attempts++
		host := iter.next()
		conn, ch, confirms, err := c.dial(*opts, host)
		if err == nil {
			c.connMu.Lock()
			c.conn = conn
			c.ch = ch
			c.connected = true
			c.connMu.Unlock()
			c.confirmMu.Lock()
			c.confirmWaiters = make(map[uint64]chan confirmOutcome)
			c.confirmMu.Unlock()
			go c.confirmPump(confirms)
			bk.reset()
			if regErr := c.registerHandlers(connectCtx); regErr != nil {
				c.cfg.log.WithField("error", regErr).Error("handler registration failed")
				lastErr = regErr
				c.connMu.Lock()
				c.connected = false
				c.connMu.Unlock()
				_ = conn.Close()
			} else {
				return nil
			}
		} else {
			lastErr = err
			c.cfg.log.WithField("host", host).WithField("error", err).Warning("connect attempt failed")
		}

		if connectCtx.Err() != nil {
			return &ConnectError{Attempts: attempts, Last: lastErr}
		}
		if sleepErr := bk.sleep(connectCtx); sleepErr != nil {
			return &ConnectError{Attempts: attempts, Last: lastErr}
		}
		if opts.ConfigRefresh != nil {
			if refreshed, rerr := opts.ConfigRefresh(); rerr == nil {
				*opts = refreshed
				iter.reset(refreshed.Hosts)
			}
		}
	}
}

func (c *Connection) dial(opts BrokerOptions, host string) (*amqp091.Connection, *amqp091.Channel, <-chan amqp091.Confirmation, error) {
	tlsCfg, err := opts.tlsConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	cfg := amqp091.Config{
		Heartbeat:       opts.Heartbeat,
		TLSClientConfig: tlsCfg,
		Dial:            amqp091.DefaultDial(opts.SocketTimeout),
		Properties: amqp091.Table{
			"connection_name": c.connectionName(opts),
		},
	}
	conn, err := amqp091.DialConfig(opts.url(host), cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}
	if err := ch.Qos(c.cfg.prefetchCount, c.cfg.prefetchSize, false); err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}
	if err := c.declareTopology(ch); err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}
	confirms := ch.NotifyPublish(make(chan amqp091.Confirmation, 64))
	return conn, ch, confirms, nil
}

func (c *Connection) connectionName(opts BrokerOptions) string {
	if c.cfg.name != "" {
		return c.cfg.name
	}
	if opts.Name != "" {
		return opts.Name
	}
	return getName("connection")
}

func (c *Connection) declareTopology(ch *amqp091.Channel) error {
	tp := c.cfg.topology
	for _, ex := range tp.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, ex.Kind, ex.Durable, ex.AutoDelete, ex.Internal, false, ex.Arguments); err != nil {
			return err
		}
	}
	for _, q := range tp.Queues {
		if _, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Arguments); err != nil {
			return err
		}
	}
	for _, b := range tp.Bindings {
		keys := b.RoutingKey
		if len(keys) == 0 {
			keys = []string{""}
		}
		for _, k := range keys {
			if err := ch.QueueBind(b.Queue, k, b.Exchange, false, b.Arguments); err != nil {
				return err
			}
		}
	}
	return nil
}

// registerHandlers re-registers every handler, in insertion order, against
// the freshly opened connection's channel, direct and synchronous: the
// pump loop has not started yet, so nothing would ever drain an enqueued
// envelope. Each call is marked with an actor context so a handler that
// mistakenly submits an envelope with wait=true fails fast with ErrMisuse
// instead of deadlocking the actor.
func (c *Connection) registerHandlers(ctx context.Context) error {
	ctx = actorContext(ctx)
	c.handlersMu.Lock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlersMu.Unlock()

	c.connMu.RLock()
	ch := c.ch
	c.connMu.RUnlock()

	for _, h := range handlers {
		if err := h.register(ctx, c, ch); err != nil {
			return err
		}
	}
	return nil
}

// pumpPhase drains the outbound queue on a fixed tick while watching for
// broker-initiated channel/connection closure. It returns when the
// connection is lost (caller reconnects) or the actor is closed.
func (c *Connection) pumpPhase(ctx context.Context) {
	c.connMu.RLock()
	conn, ch := c.conn, c.ch
	c.connMu.RUnlock()

	notifyConnClose := conn.NotifyClose(make(chan *amqp091.Error, 1))
	notifyChanClose := ch.NotifyClose(make(chan *amqp091.Error, 1))

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeSignal:
			c.drainOutbound(ctx)
			return
		case err := <-notifyChanClose:
			c.cfg.log.WithField("error", err).Error("channel closed by broker")
			c.closed.Store(true)
			c.failOutbound(&ChannelClosedError{Cause: err})
			return
		case err := <-notifyConnClose:
			c.cfg.log.WithField("error", err).Warning("connection lost, reconnecting")
			c.connMu.Lock()
			c.connected = false
			c.connMu.Unlock()
			return
		case <-ticker.C:
			if lost := c.drainOutbound(ctx); lost {
				return
			}
		}
	}
}

// drainOutbound pops envelopes non-blockingly until the queue is empty or a
// connection-closed error is observed. It returns true when the connection
// was found to be closed, signalling the pump loop to reconnect.
func (c *Connection) drainOutbound(ctx context.Context) bool {
	for {
		e := c.out.pop()
		if e == nil {
			return false
		}

		target := e.channel
		if target == nil {
			c.connMu.RLock()
			target = c.ch
			c.connMu.RUnlock()
		}

		var err error
		if e.method == methodPublish && e.replyTo != nil {
			err = c.publishConfirmed(ctx, target, e)
			if err == nil {
				continue // publishConfirmed already delivered the outcome
			}
		} else {
			err = dispatchMethod(ctx, target, e.method, e.args)
			if err == nil {
				e.reply(nil)
				continue
			}
		}

		if isConnectionClosed(err) {
			if c.closed.Load() {
				e.reply(ErrClosedClient)
				return false
			}
			c.out.pushFront(e)
			c.connMu.Lock()
			c.connected = false
			c.connMu.Unlock()
			e.reply(&ConnectionLostError{Cause: err})
			return true
		}

		if e.replyTo == nil {
			c.cfg.log.WithField("method", string(e.method)).WithField("error", err).Error("fire-and-forget envelope failed")
		}
		e.reply(err)
	}
}

// confirmOutcome is what confirmPump delivers to a publishConfirmed waiter:
// either the broker's ack/nack, or err set when the confirms channel closed
// out from under a still-pending publish (connection or channel loss).
type confirmOutcome struct {
	conf amqp091.Confirmation
	err  error
}

// publishConfirmed performs a confirming publish: it registers a waiter
// for the message's publish-sequence number before publishing, then blocks
// on the broker's ack/nack. The outcome is normally delivered to e's reply
// slot directly; a non-nil return instead means the publish failed in a way
// dispatchMethod's callers already know how to handle (connection closed or
// a transport error), including a connection lost while the confirm was
// still outstanding, which confirmPump reports via confirmOutcome.err.
func (c *Connection) publishConfirmed(ctx context.Context, target *amqp091.Channel, e *envelope) error {
	seq := target.GetNextPublishSeqNo()
	waiter := make(chan confirmOutcome, 1)
	c.confirmMu.Lock()
	c.confirmWaiters[seq] = waiter
	c.confirmMu.Unlock()

	a := e.args
	if err := target.PublishWithContext(ctx, a.exchange, a.routingKey, a.mandatory, false, a.message); err != nil {
		c.confirmMu.Lock()
		delete(c.confirmWaiters, seq)
		c.confirmMu.Unlock()
		return err
	}

	select {
	case outcome := <-waiter:
		if outcome.err != nil {
			return outcome.err
		}
		if outcome.conf.Ack {
			e.reply(nil)
		} else {
			e.reply(&PublishError{Cause: errors.New("broker rejected publish (nack)")})
		}
	case <-ctx.Done():
		c.confirmMu.Lock()
		delete(c.confirmWaiters, seq)
		c.confirmMu.Unlock()
		e.reply(ErrTimeout)
	}
	return nil
}

// confirmPump resolves publish-confirmation waiters as they arrive. It
// exits when confirms is closed, which happens when the channel or
// connection it belongs to is closed; any waiter still pending at that
// point is woken with amqp091.ErrClosed rather than left to block forever,
// so its publishConfirmed call can fall through to the usual
// connection-lost pushback path instead of wedging the actor goroutine.
func (c *Connection) confirmPump(confirms <-chan amqp091.Confirmation) {
	for conf := range confirms {
		c.confirmMu.Lock()
		waiter, ok := c.confirmWaiters[conf.DeliveryTag]
		if ok {
			delete(c.confirmWaiters, conf.DeliveryTag)
		}
		c.confirmMu.Unlock()
		if ok {
			waiter <- confirmOutcome{conf: conf}
		}
	}

	c.confirmMu.Lock()
	pending := c.confirmWaiters
	c.confirmWaiters = make(map[uint64]chan confirmOutcome)
	c.confirmMu.Unlock()
	for _, waiter := range pending {
		waiter <- confirmOutcome{err: amqp091.ErrClosed}
	}
}

// failOutbound drains the queue delivering err to every waiting caller,
// used when the actor is exiting for a reason no reconnect can fix.
func (c *Connection) failOutbound(err error) {
	for {
		e := c.out.pop()
		if e == nil {
			return
		}
		e.reply(err)
	}
}

func (c *Connection) shutdownPhase() {
	c.drainOutbound(context.Background())
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connected = false
}

// isConnectionClosed reports whether err reflects a connection that is
// already gone, as opposed to a broker-reported protocol error on an
// otherwise-live channel (those arrive asynchronously via NotifyClose, not
// as a synchronous return value from a driver call).
func isConnectionClosed(err error) bool {
	return errors.Is(err, amqp091.ErrClosed)
}

// dispatchMethod invokes the driver method named by m against target,
// using the keyed arguments in a. This is an explicit switch rather than
// reflection: the method vocabulary is fixed by the envelope type.
func dispatchMethod(ctx context.Context, target *amqp091.Channel, m method, a methodArgs) error {
	if target == nil {
		return ErrNotConnected
	}
	switch m {
	case methodPublish:
		return target.PublishWithContext(ctx, a.exchange, a.routingKey, a.mandatory, false, a.message)
	case methodBasicAck:
		return target.Ack(a.deliveryTag, a.multiple)
	case methodQueueDeclare:
		_, err := target.QueueDeclare(a.queueName, a.durable, a.autoDelete, a.exclusive, a.noWait, a.arguments)
		return err
	case methodQueueDelete:
		_, err := target.QueueDelete(a.queueName, false, false, a.noWait)
		return err
	case methodQueueBind:
		return target.QueueBind(a.queueName, a.routingKey, a.exchange, a.noWait, a.arguments)
	case methodExchangeDeclare:
		return target.ExchangeDeclare(a.exchange, a.exchangeKind, a.durable, a.autoDelete, false, a.noWait, a.arguments)
	case methodExchangeDelete:
		return target.ExchangeDelete(a.exchange, false, a.noWait)
	case methodBasicConsume:
		return nil // consumption is set up directly by handlers via Connection.Channel; not routed through the queue.
	case methodBasicQos:
		return target.Qos(a.prefetchCount, a.prefetchSize, false)
	case methodConfirmDelivery:
		return target.Confirm(false)
	default:
		return errors.New("amqp: unknown method " + string(m))
	}
}
