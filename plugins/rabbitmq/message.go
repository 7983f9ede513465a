package rabbitmq

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miladsoleymani/cloudstream/core"
)

// toTable converts message headers to an AMQP table. Strings and byte
// slices are written as is; other values are JSON-encoded strings.
func toTable(h core.Headers) amqp.Table {
	t := make(amqp.Table, len(h))
	for k, v := range h {
		switch val := v.(type) {
		case string, []byte:
			t[k] = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			t[k] = string(b)
		}
	}
	return t
}

// toMessage converts a delivery to a core.Message.
func toMessage(d amqp.Delivery) *core.Message {
	h := make(core.Headers, len(d.Headers)+1)
	for k, v := range d.Headers {
		switch val := v.(type) {
		case string:
			h[k] = val
		case []byte:
			h[k] = string(val)
		default:
			h[k] = fmt.Sprint(val)
		}
	}
	if d.ContentType != "" {
		if _, ok := h[core.HeaderContentType]; !ok {
			h[core.HeaderContentType] = d.ContentType
		}
	}
	if d.MessageId != "" {
		if _, ok := h[core.HeaderID]; !ok {
			h[core.HeaderID] = d.MessageId
		}
	}
	return core.NewMessage(d.Body, h)
}
