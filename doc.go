// Package amqp provides a reconnecting AMQP 0-9-1 client built around a
// single connection actor. One goroutine owns the broker connection and its
// channel; every other goroutine, whether publishing a message, declaring a
// queue, or acking a delivery, submits its request as an envelope on a
// shared outbound queue rather than touching the driver directly. This
// keeps the underlying amqp091-go types free of concurrent access from
// arbitrary caller goroutines, at the cost of an extra hop through the
// actor for anything that isn't itself a handler's own consume loop.
//
// Connection dials a host from BrokerOptions, re-dialing with capped
// exponential backoff on any loss, and replaying every registered Handler's
// topology declarations on each reconnect, since nothing declared against a
// prior connection survives it. Handler implementations in this package
// cover the common shapes: SendHandler and ScheduledExecutionHandler for
// publish-side topologies, TaskConsumer for a bounded worker pool consuming
// a durable queue, and BlockingRPCHandler/CallbackRPCHandler for
// correlation-ID based request/response over a reply queue.
package amqp
