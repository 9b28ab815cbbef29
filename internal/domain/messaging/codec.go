package messaging

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ahrav/syncd/pkg/common/logger"
)

// EmbeddedHeadersCodec serializes a message with its headers embedded in the
// wire bytes, so plain byte transports carry header metadata without an
// out-of-band channel.
//
// The native framing is:
//
//	<int32 headers length><headers JSON><int32 payload length><payload>
//
// with both lengths big-endian. Decoding is lenient: bytes that are not
// natively framed are tried as whole-message JSON, and anything else becomes
// the opaque payload of a fresh message. Foreign producers therefore
// interoperate without coordination, at the cost of never surfacing a framing
// error to the caller.
type EmbeddedHeadersCodec struct {
	rawBytes bool
	logger   *logger.Logger
}

// CodecOption configures an EmbeddedHeadersCodec.
type CodecOption func(*EmbeddedHeadersCodec)

// WithRawBytes controls the encode format. Enabled (the default) uses the
// native length-prefixed framing; disabled encodes the whole message as one
// JSON document.
func WithRawBytes(enabled bool) CodecOption {
	return func(c *EmbeddedHeadersCodec) { c.rawBytes = enabled }
}

// NewEmbeddedHeadersCodec creates a codec. The logger only records decode
// fallbacks, at debug level.
func NewEmbeddedHeadersCodec(log *logger.Logger, opts ...CodecOption) *EmbeddedHeadersCodec {
	c := &EmbeddedHeadersCodec{
		rawBytes: true,
		logger:   log.With("component", "embedded_headers_codec"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode serializes the message for the wire.
func (c *EmbeddedHeadersCodec) Encode(msg Message) ([]byte, error) {
	if !c.rawBytes {
		out, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encoding message as JSON: %w", err)
		}
		return out, nil
	}

	headersJSON, err := json.Marshal(msg.Headers)
	if err != nil {
		return nil, fmt.Errorf("encoding message headers: %w", err)
	}
	if len(headersJSON) > math.MaxInt32 || len(msg.Payload) > math.MaxInt32 {
		return nil, fmt.Errorf("message too large for int32 framing")
	}

	out := make([]byte, 0, 8+len(headersJSON)+len(msg.Payload))
	out = binary.BigEndian.AppendUint32(out, uint32(len(headersJSON)))
	out = append(out, headersJSON...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(msg.Payload)))
	out = append(out, msg.Payload...)
	return out, nil
}

// Decode reconstructs a message from wire bytes. It never fails: input that
// is neither natively framed nor message JSON becomes the opaque payload of a
// new message with fresh headers.
func (c *EmbeddedHeadersCodec) Decode(ctx context.Context, data []byte) Message {
	if msg, ok := c.decodeFramed(data); ok {
		return msg
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err == nil && msg.Headers != nil {
		return msg
	}

	c.logger.Debug(ctx, "bytes are not an embedded-headers envelope; treating as opaque payload",
		"size", len(data))
	return NewMessage(data, nil)
}

// decodeFramed attempts the native length-prefixed layout. Both length words
// must be consistent with the input size and the headers must parse as JSON.
func (c *EmbeddedHeadersCodec) decodeFramed(data []byte) (Message, bool) {
	if len(data) < 8 {
		return Message{}, false
	}

	headersLen := int(int32(binary.BigEndian.Uint32(data)))
	if headersLen <= 0 || headersLen > len(data)-8 {
		return Message{}, false
	}

	headersEnd := 4 + headersLen
	payloadLen := int(int32(binary.BigEndian.Uint32(data[headersEnd:])))
	if payloadLen < 0 || headersEnd+4+payloadLen != len(data) {
		return Message{}, false
	}

	var headers map[string]any
	if err := json.Unmarshal(data[4:headersEnd], &headers); err != nil {
		return Message{}, false
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[headersEnd+4:])
	return Message{Headers: headers, Payload: payload}, true
}
