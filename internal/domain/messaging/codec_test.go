package messaging

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/syncd/pkg/common/logger"
)

func TestNewMessageStampsIDAndTimestamp(t *testing.T) {
	msg := NewMessage([]byte("payload"), map[string]any{"file_name": "a.txt"})

	assert.NotEmpty(t, msg.ID())
	assert.Contains(t, msg.Headers, HeaderTimestamp)
	assert.Equal(t, "a.txt", msg.Headers["file_name"])

	// Caller-provided identity wins.
	withID := NewMessage(nil, map[string]any{HeaderID: "fixed"})
	assert.Equal(t, "fixed", withID.ID())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewEmbeddedHeadersCodec(logger.Noop())
	msg := NewMessage([]byte("hello"), map[string]any{"file_name": "a.txt"})

	wire, err := codec.Encode(msg)
	require.NoError(t, err)

	got := codec.Decode(context.Background(), wire)
	assert.Equal(t, msg.ID(), got.ID())
	assert.Equal(t, "a.txt", got.Headers["file_name"])
	assert.Equal(t, []byte("hello"), got.Payload)
}

func TestEncodeFramingLayout(t *testing.T) {
	codec := NewEmbeddedHeadersCodec(logger.Noop())
	msg := Message{Headers: map[string]any{"k": "v"}, Payload: []byte("pay")}

	wire, err := codec.Encode(msg)
	require.NoError(t, err)

	headersLen := binary.BigEndian.Uint32(wire)
	var headers map[string]any
	require.NoError(t, json.Unmarshal(wire[4:4+headersLen], &headers))
	assert.Equal(t, "v", headers["k"])

	payloadLen := binary.BigEndian.Uint32(wire[4+headersLen:])
	assert.Equal(t, uint32(3), payloadLen)
	assert.Equal(t, []byte("pay"), wire[len(wire)-3:])
}

func TestEncodeWholeMessageJSON(t *testing.T) {
	codec := NewEmbeddedHeadersCodec(logger.Noop(), WithRawBytes(false))
	msg := NewMessage([]byte("hello"), nil)

	wire, err := codec.Encode(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, msg.ID(), decoded.ID())
	assert.Equal(t, []byte("hello"), decoded.Payload)
}

func TestDecodeAcceptsMessageJSON(t *testing.T) {
	codec := NewEmbeddedHeadersCodec(logger.Noop())
	wire, err := json.Marshal(NewMessage([]byte("hello"), map[string]any{HeaderID: "json-id"}))
	require.NoError(t, err)

	got := codec.Decode(context.Background(), wire)
	assert.Equal(t, "json-id", got.ID())
	assert.Equal(t, []byte("hello"), got.Payload)
}

func TestDecodeFallsBackToOpaquePayload(t *testing.T) {
	codec := NewEmbeddedHeadersCodec(logger.Noop())
	raw := []byte("not an envelope at all")

	got := codec.Decode(context.Background(), raw)
	assert.Equal(t, raw, got.Payload)
	assert.NotEmpty(t, got.ID(), "fallback messages get fresh headers")
}

func TestDecodeRejectsLyingLengthPrefix(t *testing.T) {
	codec := NewEmbeddedHeadersCodec(logger.Noop())

	// Plausible first length word but inconsistent framing.
	wire := make([]byte, 16)
	binary.BigEndian.PutUint32(wire, 4)

	got := codec.Decode(context.Background(), wire)
	assert.Equal(t, wire, got.Payload)
}
