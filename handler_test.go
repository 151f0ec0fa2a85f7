package amqp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlrs-121991-germany/cloudify-common/log"
)

type capturingLogger struct {
	log.Logger
	level log.Level
	msg   string
}

func (l *capturingLogger) Print(level log.Level, args ...any) {
	l.level = level
	if len(args) > 0 {
		l.msg, _ = args[0].(string)
	}
}

func TestNewSendHandlerDefaults(t *testing.T) {
	h := NewSendHandler("ex", "topic", "rk")
	assert.Equal(t, "rk", h.RoutingKey())
	assert.True(t, h.WaitForPublish)
}

func TestNewNoWaitSendHandlerDoesNotWait(t *testing.T) {
	h := NewNoWaitSendHandler("ex", "fanout", "")
	assert.False(t, h.WaitForPublish)
}

func TestLogLevelMapsKnownStrings(t *testing.T) {
	assert.Equal(t, log.Debug, logLevel("debug"))
	assert.Equal(t, log.Warning, logLevel("warning"))
	assert.Equal(t, log.Error, logLevel("error"))
	assert.Equal(t, log.Info, logLevel("info"))
	assert.Equal(t, log.Info, logLevel(nil))
	assert.Equal(t, log.Info, logLevel(42))
}

func TestEmitLogSinkPrefixesExecutionID(t *testing.T) {
	cl := &capturingLogger{Logger: log.Discard()}
	h := NewSendHandler("ex", "topic", "rk")
	h.Logger = cl

	h.emitLogSink(map[string]any{
		"level":        "warning",
		"execution_id": "exec-1",
		"message":      map[string]any{"text": "disk usage high"},
	})

	assert.Equal(t, log.Warning, cl.level)
	assert.Equal(t, "[exec-1] disk usage high", cl.msg)
}

func TestEmitLogSinkIgnoresPayloadWithoutMessageText(t *testing.T) {
	cl := &capturingLogger{Logger: log.Discard()}
	h := NewSendHandler("ex", "topic", "rk")
	h.Logger = cl

	h.emitLogSink(map[string]any{"level": "info"})
	assert.Empty(t, cl.msg)
}

func TestSendHandlerPublishEnqueuesJSONBody(t *testing.T) {
	conn := newTestConnection()
	h := NewNoWaitSendHandler("ex", "topic", "rk")
	h.conn = conn

	err := h.Publish(context.Background(), map[string]any{"hello": "world"})
	require.NoError(t, err)

	e := conn.out.pop()
	require.NotNil(t, e)
	assert.Equal(t, methodPublish, e.method)
	assert.Equal(t, "ex", e.args.exchange)
	assert.Equal(t, "rk", e.args.routingKey)
	assert.Nil(t, e.replyTo, "no-wait publish must not register a reply slot")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(e.args.message.Body, &decoded))
	assert.Equal(t, "world", decoded["hello"])
}
