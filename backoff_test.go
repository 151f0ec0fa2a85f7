package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	b := newBackoff()
	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.next())
	}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	assert.Equal(t, want, got)
}

func TestBackoffResetRestartsSequence(t *testing.T) {
	b := newBackoff()
	_ = b.next()
	_ = b.next()
	b.reset()
	assert.Equal(t, 1*time.Second, b.next())
}

func TestBackoffSleepRespectsContextCancellation(t *testing.T) {
	b := newBackoff()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.sleep(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
