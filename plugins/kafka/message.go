package kafka

import (
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/cloudstream/core"
)

// HeaderMessageKey is the message header used as the Kafka record key.
const HeaderMessageKey = "kafka_messageKey"

// toHeaders converts message headers to Kafka headers. Strings and byte
// slices are written as is; other values are JSON-encoded.
func toHeaders(h core.Headers) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		var raw []byte
		switch val := v.(type) {
		case string:
			raw = []byte(val)
		case []byte:
			raw = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			raw = b
		}
		headers = append(headers, kafka.Header{Key: k, Value: raw})
	}
	return headers
}

// toMessage converts a fetched record to a core.Message. Header values
// arrive as strings.
func toMessage(raw kafka.Message) *core.Message {
	h := make(core.Headers, len(raw.Headers)+1)
	for _, kh := range raw.Headers {
		h[kh.Key] = string(kh.Value)
	}
	if len(raw.Key) > 0 {
		if _, ok := h[HeaderMessageKey]; !ok {
			h[HeaderMessageKey] = string(raw.Key)
		}
	}
	return core.NewMessage(raw.Value, h)
}

// headerBalancer routes messages carrying a partition header to that
// partition and balances the rest with next.
type headerBalancer struct {
	next kafka.Balancer
}

func (b headerBalancer) Balance(msg kafka.Message, partitions ...int) int {
	for _, h := range msg.Headers {
		if h.Key != core.HeaderPartition {
			continue
		}
		var p int
		if err := json.Unmarshal(h.Value, &p); err == nil && p >= 0 && len(partitions) > 0 {
			return partitions[p%len(partitions)]
		}
	}
	return b.next.Balance(msg, partitions...)
}
