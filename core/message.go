package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Standard header keys.
const (
	HeaderID             = "id"
	HeaderCorrelationID  = "correlationId"
	HeaderSequenceSize   = "sequenceSize"
	HeaderSequenceNumber = "sequenceNumber"
	HeaderContentType    = "contentType"

	// HeaderOriginalContentType carries the content type of a message whose
	// payload was rewritten into a transport-native format.
	HeaderOriginalContentType = "originalContentType"

	// HeaderPartition holds the target partition index of an outbound message.
	// Brokers without native partitioning must honor it when present.
	HeaderPartition = "partition"
)

// StandardHeaders are propagated by transports that have no header support
// of their own, by embedding them in the payload.
var StandardHeaders = []string{
	HeaderCorrelationID,
	HeaderSequenceSize,
	HeaderSequenceNumber,
	HeaderContentType,
	HeaderOriginalContentType,
}

// Headers is the header map of a Message.
type Headers map[string]any

// Clone returns a shallow copy of h. A nil map clones to an empty one.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// String returns the header value formatted as a string, or "" if absent.
func (h Headers) String(key string) string {
	v, ok := h[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

// Message is the immutable envelope exchanged between channels, binders
// and listeners. It is safe to share between goroutines.
type Message struct {
	payload any
	headers Headers
}

// NewMessage creates a Message. The headers are copied; an "id" header is
// generated when the caller did not supply one.
func NewMessage(payload any, headers Headers) *Message {
	h := headers.Clone()
	if _, ok := h[HeaderID]; !ok {
		h[HeaderID] = uuid.NewString()
	}
	return &Message{payload: payload, headers: h}
}

// ID returns the message id header.
func (m *Message) ID() string { return m.headers.String(HeaderID) }

// Payload returns the message payload.
func (m *Message) Payload() any { return m.payload }

// Headers returns a copy of the message headers.
func (m *Message) Headers() Headers { return m.headers.Clone() }

// Header returns a single header value.
func (m *Message) Header(key string) (any, bool) {
	v, ok := m.headers[key]
	return v, ok
}

// HeaderString returns a single header value formatted as a string.
func (m *Message) HeaderString(key string) string { return m.headers.String(key) }

// WithHeader returns a copy of m with the header set.
func (m *Message) WithHeader(key string, val any) *Message {
	h := m.headers.Clone()
	h[key] = val
	return &Message{payload: m.payload, headers: h}
}

// WithPayload returns a copy of m carrying a different payload.
func (m *Message) WithPayload(payload any) *Message {
	return &Message{payload: payload, headers: m.headers.Clone()}
}

func (m *Message) String() string {
	return fmt.Sprintf("Message[id=%s, headers=%v]", m.ID(), m.headers)
}

// Handler consumes a message delivered on a channel or by a broker.
type Handler func(ctx context.Context, msg *Message) error

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain wraps h with middleware. Given [A, B, C], the call order is
// A -> B -> C -> h.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
