package amqp

import (
	"context"
	"fmt"
)

// Event exchange names and routing keys fixed by the events publisher
// facade; callers never choose these directly.
const (
	logsExchange   = "cloudify-logs"
	eventsExchange = "cloudify-events"
	eventsRouting  = "events"
	hooksRouting   = "events.hooks"
)

// EventsPublisher pre-wires three handlers on one connection actor: a
// fanout, no-wait "log" sink and two synchronous "event"/"hook" publishers
// on a shared topic exchange.
type EventsPublisher struct {
	conn *Connection
	log  *SendHandler
	evt  *SendHandler
	hook *SendHandler

	closed bool
}

// NewEventsPublisher registers the three handlers on conn and returns the
// facade. conn must not have had Start called yet, so registration happens
// on the first connect along with any other handler added beforehand.
func NewEventsPublisher(conn *Connection) (*EventsPublisher, error) {
	logH := NewNoWaitSendHandler(logsExchange, "fanout", "")
	evtH := NewSendHandler(eventsExchange, "topic", eventsRouting)
	hookH := NewSendHandler(eventsExchange, "topic", hooksRouting)

	for _, h := range []*SendHandler{logH, evtH, hookH} {
		// Bind the handler now so messages published before the first
		// connect are queued on conn rather than dropped.
		h.conn = conn
		if err := conn.AddHandler(h); err != nil {
			return nil, err
		}
	}

	return &EventsPublisher{conn: conn, log: logH, evt: evtH, hook: hookH}, nil
}

// PublishMessage routes message to the handler keyed by kind ("log",
// "event" or "hook"). An unknown kind is logged and dropped.
func (p *EventsPublisher) PublishMessage(ctx context.Context, kind string, message map[string]any) error {
	if p.closed {
		return ErrClosedClient
	}
	var h *SendHandler
	switch kind {
	case "log":
		h = p.log
	case "event":
		h = p.evt
	case "hook":
		h = p.hook
	default:
		p.log.Logger.WithField("kind", kind).Error("dropping message with unknown publish kind")
		return nil
	}
	return h.Publish(ctx, message)
}

// Close marks the facade closed; idempotent, and tolerant of errors from
// the underlying connection close (logged at debug).
func (p *EventsPublisher) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.conn.Close(true); err != nil {
		p.log.Logger.WithField("error", err).Debug(fmt.Sprintf("error closing events publisher: %v", err))
	}
	return nil
}
