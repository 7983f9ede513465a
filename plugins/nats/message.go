package nats

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/miladsoleymani/cloudstream/core"
)

// toHeader converts message headers to NATS headers. Strings and byte
// slices are written as is; other values are JSON-encoded.
func toHeader(h core.Headers) nats.Header {
	out := make(nats.Header, len(h))
	for k, v := range h {
		switch val := v.(type) {
		case string:
			out.Set(k, val)
		case []byte:
			out.Set(k, string(val))
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out.Set(k, string(b))
		}
	}
	return out
}

// toMessage builds a core.Message from a received payload and its headers.
// Only the first value of a multi-valued header is kept.
func toMessage(h nats.Header, data []byte) *core.Message {
	headers := make(core.Headers, len(h))
	for k, v := range h {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return core.NewMessage(data, headers)
}
