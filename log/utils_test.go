package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsNewlinesFromStringArgs(t *testing.T) {
	out := sanitize("line one\nline two\r\n", 42, "clean")
	assert.Equal(t, "line oneline two", out[0])
	assert.Equal(t, 42, out[1])
	assert.Equal(t, "clean", out[2])
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", Debug.String())
	assert.Equal(t, "info", Info.String())
	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "panic", Panic.String())
	assert.Equal(t, "fatal", Fatal.String())
	assert.Equal(t, "invalid-level", Level(99).String())
}

func TestDiscardLoggerNeverPanics(t *testing.T) {
	l := Discard()
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warning("x")
		l.Error("x")
		l.WithField("k", "v").Print(Info, "x")
		l.WithFields(Fields{"a": 1}).Printf(Info, "%s", "x")
		l.SetLevel(Error)
	})
}
