package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

const embeddedHeadersMarker = 0xff

// EmbedHeaders prepends the named headers of msg to payload, for transports
// that cannot carry headers natively. The content type travels as
// originalContentType.
func EmbedHeaders(msg *Message, payload []byte, names ...string) ([]byte, error) {
	if len(names) == 0 {
		names = StandardHeaders
	}
	type kv struct {
		name  string
		value []byte
	}
	var pairs []kv
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := name
		if name == HeaderContentType {
			key = HeaderOriginalContentType
		}
		if seen[key] {
			continue
		}
		v, ok := msg.Header(name)
		if !ok || v == nil {
			continue
		}
		if len(key) > math.MaxUint8 {
			return nil, fmt.Errorf("embed headers: header name %q too long", key)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("embed headers: encode %q: %w", key, err)
		}
		seen[key] = true
		pairs = append(pairs, kv{name: key, value: b})
	}
	if len(pairs) > math.MaxUint8 {
		return nil, fmt.Errorf("embed headers: too many headers (%d)", len(pairs))
	}

	size := 2 + len(payload)
	for _, p := range pairs {
		size += 1 + len(p.name) + 4 + len(p.value)
	}
	out := make([]byte, 0, size)
	out = append(out, embeddedHeadersMarker, byte(len(pairs)))
	for _, p := range pairs {
		out = append(out, byte(len(p.name)))
		out = append(out, p.name...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(p.value)))
		out = append(out, p.value...)
	}
	return append(out, payload...), nil
}

// ExtractHeaders splits data produced by EmbedHeaders into headers and
// payload. Data without embedded headers is returned unchanged with nil
// headers.
func ExtractHeaders(data []byte) (Headers, []byte, error) {
	if len(data) < 2 || data[0] != embeddedHeadersMarker {
		return nil, data, nil
	}
	n := int(data[1])
	pos := 2
	h := make(Headers, n)
	for i := 0; i < n; i++ {
		if pos >= len(data) {
			return nil, nil, fmt.Errorf("extract headers: truncated header %d", i)
		}
		nameLen := int(data[pos])
		pos++
		if pos+nameLen+4 > len(data) {
			return nil, nil, fmt.Errorf("extract headers: truncated header %d", i)
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen
		valLen := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if pos+valLen > len(data) {
			return nil, nil, fmt.Errorf("extract headers: truncated value of %q", name)
		}
		var v any
		if err := json.Unmarshal(data[pos:pos+valLen], &v); err != nil {
			return nil, nil, fmt.Errorf("extract headers: decode %q: %w", name, err)
		}
		pos += valLen
		h[name] = v
	}
	if ct, ok := h[HeaderOriginalContentType]; ok {
		h[HeaderContentType] = ct
		delete(h, HeaderOriginalContentType)
	}
	return h, data[pos:], nil
}
