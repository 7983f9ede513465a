package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/cloudstream/core"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		target string
		want   core.Destination
	}{
		{"orders", core.Destination{Name: "orders"}},
		{"topic:orders", core.Destination{Name: "orders", PubSub: true}},
		{"  topic:orders.created ", core.Destination{Name: "orders.created", PubSub: true}},
		{"queue:orders", core.Destination{Name: "queue:orders"}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := core.ParseDestination(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDestination_Blank(t *testing.T) {
	for _, target := range []string{"", "   ", "topic:", "topic:  "} {
		_, err := core.ParseDestination(target)
		assert.ErrorIs(t, err, core.ErrConfiguration, "target %q", target)
	}
}

func TestDestination_String(t *testing.T) {
	assert.Equal(t, "topic:orders", core.Destination{Name: "orders", PubSub: true}.String())
	assert.Equal(t, "orders", core.Destination{Name: "orders"}.String())
	assert.Equal(t, core.Destination{Name: "orders-2", PubSub: true},
		core.Destination{Name: "orders", PubSub: true, PartitionCount: 4}.Partition(2))
}

func TestEffectivePartitionCount(t *testing.T) {
	tests := []struct {
		requested, minimum, want int
	}{
		{10, 10, 10},
		{5, 3, 5},
		{3, 5, 5},
		{0, 0, 1},
		{0, 4, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, core.EffectivePartitionCount(tt.requested, tt.minimum),
			"requested=%d minimum=%d", tt.requested, tt.minimum)
	}
}

func TestSelectPartition(t *testing.T) {
	for _, key := range []any{"a", "b", []byte("c"), 42, nil} {
		p := core.SelectPartition(key, 5)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 5)
		assert.Equal(t, p, core.SelectPartition(key, 5), "selection must be stable")
	}
	assert.Equal(t, 0, core.SelectPartition("a", 1))
}

func TestPartitionOf(t *testing.T) {
	p, ok := core.PartitionOf(core.NewMessage(nil, core.Headers{core.HeaderPartition: 3}))
	assert.True(t, ok)
	assert.Equal(t, 3, p)

	p, ok = core.PartitionOf(core.NewMessage(nil, core.Headers{core.HeaderPartition: "2"}))
	assert.True(t, ok)
	assert.Equal(t, 2, p)

	p, ok = core.PartitionOf(core.NewMessage(nil, core.Headers{core.HeaderPartition: float64(1)}))
	assert.True(t, ok)
	assert.Equal(t, 1, p)

	_, ok = core.PartitionOf(core.NewMessage(nil, nil))
	assert.False(t, ok)
}

func TestProperties(t *testing.T) {
	p := core.Properties{"n": " 4 ", "b": "true", "s": "x", "bad": "four"}
	assert.Equal(t, 4, p.Int("n", 1))
	assert.Equal(t, 1, p.Int("bad", 1))
	assert.Equal(t, 7, p.Int("missing", 7))
	assert.True(t, p.Bool("b", false))
	assert.Equal(t, "x", p.String("s", "d"))
	assert.Equal(t, "d", p.String("missing", "d"))

	var nilProps core.Properties
	assert.Nil(t, nilProps.Clone())
	assert.Equal(t, 3, nilProps.Int("n", 3))

	c := p.Clone()
	c.SetInt("n", 9)
	assert.Equal(t, 4, p.Int("n", 0))
}
