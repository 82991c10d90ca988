package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commitEvent struct {
	Generation  int64     `json:"generation"`
	CommittedAt time.Time `json:"committed_at"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[commitEvent]([]byte(`{"generation":7,"committed_at":"2026-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Generation)
	assert.Equal(t, 2026, got.CommittedAt.Year())

	_, err = DecodeJSON[commitEvent]([]byte(`{"generation":"x"`))
	assert.Error(t, err)
}

func TestEncodeMessage(t *testing.T) {
	msg, err := encodeMessage(Event{Key: "docs", Type: "index.commit", Value: commitEvent{Generation: 3}})
	require.NoError(t, err)
	assert.Equal(t, []byte("docs"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventTypeHeader, msg.Headers[0].Key)
	assert.Equal(t, "index.commit", string(msg.Headers[0].Value))

	got, err := DecodeJSON[commitEvent](msg.Value)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Generation)

	_, err = encodeMessage(Event{Value: make(chan int)})
	assert.Error(t, err)
}
