package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogrusLogger(buf *bytes.Buffer) Logger {
	base := logrus.New()
	base.SetOutput(buf)
	base.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	base.SetLevel(logrus.DebugLevel)
	return WithLogrus(base)
}

func TestLogrusHandlerPrintsMessage(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogrusLogger(&buf)

	l.Info("hello from logrus")
	assert.Contains(t, buf.String(), "hello from logrus")
}

func TestLogrusHandlerSetLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogrusLogger(&buf)
	l.SetLevel(Error)

	l.Info("must not appear")
	assert.Empty(t, buf.String())

	l.Error("must appear")
	assert.Contains(t, buf.String(), "must appear")
}

func TestLogrusHandlerFieldsClearAfterEachMessage(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogrusLogger(&buf)

	l.WithField("trace_id", "xyz-789").Info("first")
	first := buf.String()
	buf.Reset()

	l.Info("second")
	second := buf.String()

	assert.Contains(t, first, "xyz-789")
	assert.NotContains(t, second, "xyz-789")
}

func TestLogrusHandlerWithFieldsMergesMultipleKeys(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogrusLogger(&buf)

	l.WithFields(Fields{"a": "one", "b": "two"}).Warning("merged")
	out := buf.String()
	assert.Contains(t, out, "one")
	assert.Contains(t, out, "two")
}

func TestLogrusHandlerImplementsLogger(t *testing.T) {
	var buf bytes.Buffer
	var l Logger = newBufferedLogrusLogger(&buf)
	require.NotNil(t, l)
}
