package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	payload := []byte(`{
		"message_id": "m-1",
		"session_id": "s-1",
		"conversation_id": "c-1",
		"sender_id": "u-1",
		"recipient_id": "u-2",
		"content": "hello",
		"timestamp": "2026-08-26T10:00:00Z"
	}`)

	msg, err := decodeInbound(payload)
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "s-1", msg.SessionID)
	assert.Equal(t, "c-1", msg.ConversationID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC), msg.Timestamp)
}

func TestDecodeInboundMissingTimestamp(t *testing.T) {
	msg, err := decodeInbound([]byte(`{"session_id": "s-1", "content": "hi"}`))
	require.NoError(t, err)
	// The monitor stamps unset timestamps at receive time.
	assert.True(t, msg.Timestamp.IsZero())
}

func TestDecodeInboundMalformedTimestamp(t *testing.T) {
	msg, err := decodeInbound([]byte(`{"session_id": "s-1", "content": "hi", "timestamp": "yesterday"}`))
	require.NoError(t, err)
	assert.True(t, msg.Timestamp.IsZero())
}

func TestDecodeInboundBadJSON(t *testing.T) {
	_, err := decodeInbound([]byte(`{not json`))
	assert.Error(t, err)
}
