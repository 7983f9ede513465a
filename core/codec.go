package core

import (
	"encoding/json"
	"fmt"
)

// ContentTypeJSON is set on messages whose payload was JSON-encoded.
const ContentTypeJSON = "application/json"

// EncodePayload returns msg with a []byte payload. Strings are converted,
// nil becomes an empty payload and any other value is JSON-encoded with the
// content type set when the message has none.
func EncodePayload(msg *Message) (*Message, error) {
	switch p := msg.Payload().(type) {
	case []byte:
		return msg, nil
	case string:
		return msg.WithPayload([]byte(p)), nil
	case nil:
		return msg.WithPayload([]byte{}), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload of %s: %w", msg.ID(), err)
		}
		out := msg.WithPayload(b)
		if _, ok := msg.Header(HeaderContentType); !ok {
			out = out.WithHeader(HeaderContentType, ContentTypeJSON)
		}
		return out, nil
	}
}

// PayloadBytes returns the payload of msg as bytes, encoding it if needed.
func PayloadBytes(msg *Message) ([]byte, error) {
	enc, err := EncodePayload(msg)
	if err != nil {
		return nil, err
	}
	return enc.Payload().([]byte), nil
}
