package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProducerMessageAppliesSettings(t *testing.T) {
	p := &Producer{
		Encoding:    "gzip",
		ContentType: "application/json",
		MessageType: "cloudify.task",
		AppID:       "worker-1",
		SetTime:     true,
		SetID:       true,
	}
	msg := p.Message([]byte(`{"ok":true}`))

	assert.Equal(t, "gzip", msg.ContentEncoding)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "cloudify.task", msg.Type)
	assert.Equal(t, "worker-1", msg.AppId)
	assert.NotEmpty(t, msg.MessageId)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, []byte(`{"ok":true}`), msg.Body)
}

func TestProducerMessageOmitsOptionalFields(t *testing.T) {
	p := &Producer{ContentType: "text/plain"}
	msg := p.Message([]byte("hi"))

	assert.Empty(t, msg.MessageId)
	assert.True(t, msg.Timestamp.IsZero())
}
