package core

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// EffectivePartitionCount returns max(requested, minimum), and at least 1.
func EffectivePartitionCount(requested, minimum int) int {
	n := max(requested, minimum)
	if n < 1 {
		return 1
	}
	return n
}

// SelectPartition maps a partition key onto [0, count).
func SelectPartition(key any, count int) int {
	if count <= 1 {
		return 0
	}
	var h uint64
	switch k := key.(type) {
	case []byte:
		h = xxhash.Sum64(k)
	case string:
		h = xxhash.Sum64String(k)
	default:
		h = xxhash.Sum64String(fmt.Sprint(k))
	}
	return int(h % uint64(count))
}

// PartitionOf returns the partition header of msg.
func PartitionOf(msg *Message) (int, bool) {
	v, ok := msg.Header(HeaderPartition)
	if !ok || v == nil {
		return 0, false
	}
	switch p := v.(type) {
	case int:
		return p, true
	case int32:
		return int(p), true
	case int64:
		return int(p), true
	case float64:
		return int(p), true
	}
	n, err := strconv.Atoi(msg.HeaderString(HeaderPartition))
	if err != nil {
		return 0, false
	}
	return n, true
}
