package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/cloudstream/broker"
	"github.com/miladsoleymani/cloudstream/core"
)

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		ok    bool
	}{
		{"simple", "orders", true},
		{"dotted", "orders.created", true},
		{"suffixed partition", "orders-3", true},
		{"underscore", "orders_v2", true},
		{"empty", "", false},
		{"space", "my orders", false},
		{"slash", "orders/created", false},
		{"wildcard", "orders.*", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopicName(tt.topic)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, core.ErrConfiguration)
			}
		})
	}
}

type fixedBalancer int

func (b fixedBalancer) Balance(kafka.Message, ...int) int { return int(b) }

func TestHeaderBalancer(t *testing.T) {
	b := headerBalancer{next: fixedBalancer(7)}
	partitions := []int{0, 1, 2, 3}

	msg := kafka.Message{Headers: toHeaders(core.Headers{core.HeaderPartition: 2})}
	assert.Equal(t, 2, b.Balance(msg, partitions...))

	msg = kafka.Message{Headers: toHeaders(core.Headers{core.HeaderPartition: "3"})}
	assert.Equal(t, 3, b.Balance(msg, partitions...))

	msg = kafka.Message{Headers: toHeaders(core.Headers{core.HeaderPartition: 6})}
	assert.Equal(t, 2, b.Balance(msg, partitions...), "wraps around")

	msg = kafka.Message{Headers: toHeaders(core.Headers{"other": "x"})}
	assert.Equal(t, 7, b.Balance(msg, partitions...), "falls back")

	msg = kafka.Message{Headers: []kafka.Header{{Key: core.HeaderPartition, Value: []byte("bogus")}}}
	assert.Equal(t, 7, b.Balance(msg, partitions...))
}

func TestHeaders_RoundTrip(t *testing.T) {
	in := core.Headers{
		"trace":                "abc",
		"raw":                  []byte("bytes"),
		core.HeaderPartition:   1,
		"meta":                 map[string]any{"k": "v"},
		core.HeaderID:          "msg-1",
		core.HeaderContentType: core.ContentTypeJSON,
	}
	msg := toMessage(kafka.Message{
		Key:     []byte("customer-1"),
		Value:   []byte(`{"n":1}`),
		Headers: toHeaders(in),
	})

	assert.Equal(t, "msg-1", msg.ID())
	assert.Equal(t, "abc", msg.HeaderString("trace"))
	assert.Equal(t, "bytes", msg.HeaderString("raw"))
	assert.Equal(t, `{"k":"v"}`, msg.HeaderString("meta"))
	assert.Equal(t, "customer-1", msg.HeaderString(HeaderMessageKey))
	assert.Equal(t, []byte(`{"n":1}`), msg.Payload())

	p, ok := core.PartitionOf(msg)
	require.True(t, ok)
	assert.Equal(t, 1, p)
}

func TestToHeaders_Empty(t *testing.T) {
	assert.Nil(t, toHeaders(nil))
}

func TestOptsFromConfig(t *testing.T) {
	cfg := broker.Config{Extra: map[string]any{
		"async":               true,
		"batch_size":          10,
		"max_bytes":           2048,
		"replication_factor":  3,
		"auto_add_partitions": true,
		"auto_create_topics":  false,
		"start_offset":        "earliest",
	}}
	o := defaults()
	for _, fn := range optsFromConfig(cfg) {
		fn(&o)
	}
	assert.True(t, o.async)
	assert.Equal(t, 10, o.batchSize)
	assert.Equal(t, 2048, o.maxBytes)
	assert.Equal(t, 3, o.replicationFactor)
	assert.True(t, o.autoAddPartitions)
	assert.False(t, o.autoCreateTopics)
	assert.Equal(t, kafka.FirstOffset, o.startOffset)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	b, err := New([]string{"localhost:9092"}, WithBatchSize(5))
	require.NoError(t, err)
	assert.True(t, b.NativePartitioning())
	assert.Equal(t, 5, b.writer.BatchSize)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(t.Context(), core.Destination{Name: "orders"}, core.NewMessage("x", nil)), core.ErrBrokerClosed)
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, broker.Names(), "kafka")
}
