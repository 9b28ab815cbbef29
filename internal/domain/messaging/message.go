// Package messaging defines the message envelope exchanged over transports
// and the embedded-headers codec that frames it for byte-oriented brokers.
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Well-known header names.
const (
	HeaderID        = "id"
	HeaderTimestamp = "timestamp"
)

// Message is an immutable payload plus its transport headers.
type Message struct {
	Headers map[string]any `json:"headers"`
	Payload []byte         `json:"payload"`
}

// NewMessage builds a message around payload, copying headers and stamping an
// ID and creation timestamp when the caller did not provide them.
func NewMessage(payload []byte, headers map[string]any) Message {
	h := make(map[string]any, len(headers)+2)
	for k, v := range headers {
		h[k] = v
	}
	if _, ok := h[HeaderID]; !ok {
		h[HeaderID] = uuid.NewString()
	}
	if _, ok := h[HeaderTimestamp]; !ok {
		h[HeaderTimestamp] = time.Now().UnixMilli()
	}
	return Message{Headers: h, Payload: payload}
}

// ID returns the message's ID header, or "" when absent.
func (m Message) ID() string {
	id, _ := m.Headers[HeaderID].(string)
	return id
}
