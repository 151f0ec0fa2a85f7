package amqp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors that do not carry additional context.
var (
	// ErrClosedClient is returned by any operation attempted after Close.
	ErrClosedClient = errors.New("amqp: client is closed")

	// ErrMisuse is returned when a synchronous call is made from within the
	// actor's own goroutine, which would deadlock the drain loop.
	ErrMisuse = errors.New("amqp: cannot wait on a synchronous call from the actor goroutine")

	// ErrTimeout is returned when a synchronous call exceeds its deadline.
	ErrTimeout = errors.New("amqp: operation timed out")

	// ErrNotConnected is returned when a channel is requested before the
	// actor has completed its first connect.
	ErrNotConnected = errors.New("amqp: not connected to broker")
)

// ConfigError reports a broker options record that cannot be used to
// establish a connection, e.g. an empty host list.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("amqp: invalid configuration: %s", e.Reason)
}

// ConnectError reports the terminal failure of Start's connect phase: every
// host in the rotation was tried until the connect deadline elapsed.
type ConnectError struct {
	Attempts int
	Last     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("amqp: failed to connect after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ConnectError) Unwrap() error { return e.Last }

// ConnectionLostError wraps a connection-level close detected mid-loop. It
// is recovered silently by the actor; it only reaches a caller whose
// envelope was in flight at the moment of loss.
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("amqp: connection lost: %v", e.Cause)
}

func (e *ConnectionLostError) Unwrap() error { return e.Cause }

// ChannelClosedError reports a broker-initiated channel closure, e.g. an
// operation against an undeclared exchange. It is terminal: the actor that
// observes it exits.
type ChannelClosedError struct {
	Cause error
}

func (e *ChannelClosedError) Error() string {
	return fmt.Sprintf("amqp: channel closed: %v", e.Cause)
}

func (e *ChannelClosedError) Unwrap() error { return e.Cause }

// PublishError reports a broker-reported failure on a confirming publish.
type PublishError struct {
	Cause error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("amqp: publish failed: %v", e.Cause)
}

func (e *PublishError) Unwrap() error { return e.Cause }

// ParseError reports a delivery body that failed to decode as JSON. Such
// deliveries are dropped without an ack, so the broker redelivers them once
// the channel is lost.
type ParseError struct {
	Cause error
	Body  []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("amqp: failed to parse delivery body: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// NoResponseError reports a blocking RPC call whose timeout elapsed before
// a correlated reply arrived.
type NoResponseError struct {
	CorrelationID string
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("amqp: no response received for request %s", e.CorrelationID)
}
