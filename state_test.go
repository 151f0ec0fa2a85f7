package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueOptionsAsArgumentsOmitsUnset(t *testing.T) {
	qo := &QueueOptions{}
	args := qo.AsArguments()
	assert.NotContains(t, args, "x-message-ttl")
	assert.NotContains(t, args, "x-dead-letter-exchange")
	// MaxPriority's zero value (0) is itself a valid priority count, so it
	// is always included by the <= 9 check.
	assert.Contains(t, args, "x-max-priority")
}

func TestQueueOptionsAsArgumentsIncludesSetFields(t *testing.T) {
	ttl := 30 * time.Second
	qo := &QueueOptions{
		MessageTTL:   &ttl,
		MaxLength:    100,
		DLExchange:   "dlx",
		DLRoutingKey: "dlrk",
		LazyMode:     true,
		Overflow:     OverflowReject,
	}
	args := qo.AsArguments()
	assert.Equal(t, int64(30000), args["x-message-ttl"])
	assert.Equal(t, uint(100), args["x-max-length"])
	assert.Equal(t, "dlx", args["x-dead-letter-exchange"])
	assert.Equal(t, "dlrk", args["x-dead-letter-routing-key"])
	assert.Equal(t, "lazy", args["x-queue-mode"])
	assert.Equal(t, OverflowReject, args["x-overflow"])
}
