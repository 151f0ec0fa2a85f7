package amqp

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// connectBackoffCap is the ceiling on the reconnect sleep: the sequence
// doubles from 1s until it saturates at 30s.
const connectBackoffCap = 30 * time.Second

// backoff produces the 1, 2, 4, 8, 16, 30, 30, ... second sequence used
// between failed connect attempts. It wraps go-retry's capped exponential
// backoff rather than hand-rolling the doubling arithmetic.
type backoff struct {
	b retry.Backoff
}

func newBackoff() *backoff {
	return &backoff{b: newBackoffPolicy()}
}

func newBackoffPolicy() retry.Backoff {
	return retry.WithCappedDuration(connectBackoffCap, retry.NewExponential(1*time.Second))
}

// next returns the next sleep duration and advances the sequence.
func (b *backoff) next() time.Duration {
	d, _ := b.b.Next()
	return d
}

// reset restarts the sequence at 1s, called after any successful connect.
func (b *backoff) reset() {
	b.b = newBackoffPolicy()
}

// sleep waits for the next backoff interval or until ctx is done.
func (b *backoff) sleep(ctx context.Context) error {
	d := b.next()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
