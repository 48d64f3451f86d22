package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	raw := json.RawMessage(`{"b":2,"a":1}`)
	msg, err := NewMessage("update", raw)
	require.NoError(t, err)
	// raw payloads are carried byte for byte
	assert.Equal(t, `{"b":2,"a":1}`, string(msg.Data))

	msg, err = NewMessage("error", map[string]string{"error": "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"x"}`, string(msg.Data))

	_, err = NewMessage("bad", make(chan int))
	assert.Error(t, err)
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"event":"login","data":{"session_id":"abc"}}`))
	require.NoError(t, err)
	assert.Equal(t, "login", msg.Event)
	assert.JSONEq(t, `{"session_id":"abc"}`, string(msg.Data))

	_, err = ParseMessage([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = ParseMessage([]byte(`nope`))
	assert.Error(t, err)
}
