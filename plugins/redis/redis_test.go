package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/cloudstream/broker"
	"github.com/miladsoleymani/cloudstream/core"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	b, err := New(m.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, m
}

type collector struct {
	mu   sync.Mutex
	msgs []*core.Message
}

func (c *collector) handle(_ context.Context, msg *core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) first() *core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[0]
}

func TestKeys(t *testing.T) {
	dst := core.Destination{Name: "orders"}
	assert.Equal(t, "queue.orders.billing", QueueKey(dst, "billing"))
	assert.Equal(t, "groups.orders", GroupsKey(dst))
	assert.Equal(t, "topic.orders", TopicChannel(dst))
}

func TestPublish_EveryGroupReceives(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := t.Context()
	dst := core.Destination{Name: "orders"}

	var billing, shipping collector
	_, err := b.Subscribe(ctx, core.SubscribeOptions{Destination: dst, Group: "billing", Partition: -1}, billing.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, core.SubscribeOptions{Destination: dst, Group: "shipping", Partition: -1}, shipping.handle)
	require.NoError(t, err)

	msg := core.NewMessage(map[string]int{"n": 1}, core.Headers{
		core.HeaderID:        "msg-1",
		core.HeaderPartition: 2,
		"custom":             "not embedded",
	})
	require.NoError(t, b.Publish(ctx, dst, msg))

	assert.Eventually(t, func() bool { return billing.len() == 1 && shipping.len() == 1 },
		5*time.Second, 10*time.Millisecond)

	got := billing.first()
	assert.Equal(t, "msg-1", got.ID())
	assert.Equal(t, []byte(`{"n":1}`), got.Payload())
	assert.Equal(t, core.ContentTypeJSON, got.HeaderString(core.HeaderContentType))
	_, ok := got.Header("custom")
	assert.False(t, ok)
	p, ok := core.PartitionOf(got)
	require.True(t, ok)
	assert.Equal(t, 2, p)
}

func TestSubscribe_GroupMembersCompete(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := t.Context()
	dst := core.Destination{Name: "jobs"}

	var count atomic.Int32
	handler := func(context.Context, *core.Message) error {
		count.Add(1)
		return nil
	}
	for range 2 {
		_, err := b.Subscribe(ctx, core.SubscribeOptions{Destination: dst, Group: "workers", Concurrency: 2, Partition: -1}, handler)
		require.NoError(t, err)
	}

	for range 10 {
		require.NoError(t, b.Publish(ctx, dst, core.NewMessage("job", nil)))
	}
	assert.Eventually(t, func() bool { return count.Load() == 10 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(10), count.Load())
}

func TestPublish_NoGroupsUsesDefaultQueue(t *testing.T) {
	b, m := newTestBroker(t)
	dst := core.Destination{Name: "orders"}

	require.NoError(t, b.Publish(t.Context(), dst, core.NewMessage("a", nil)))

	items, err := m.List(QueueKey(dst, "default"))
	require.NoError(t, err)
	require.Len(t, items, 1)

	h, payload, err := core.ExtractHeaders([]byte(items[0]))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), payload)
	assert.NotEmpty(t, h[core.HeaderID])
}

func TestPublish_PubSubWithoutSubscribersIsDropped(t *testing.T) {
	b, m := newTestBroker(t)
	dst := core.Destination{Name: "events", PubSub: true}

	require.NoError(t, b.Publish(t.Context(), dst, core.NewMessage("a", nil)))
	assert.False(t, m.Exists(QueueKey(dst, "default")))
}

func TestSubscribe_AnonymousPubSub(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := t.Context()
	dst := core.Destination{Name: "events", PubSub: true}

	var first, second collector
	for _, c := range []*collector{&first, &second} {
		_, err := b.Subscribe(ctx, core.SubscribeOptions{
			Destination: dst, Group: "anonymous.x", Anonymous: true, Partition: -1,
		}, c.handle)
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(ctx, dst, core.NewMessage("hello", nil)))
	assert.Eventually(t, func() bool { return first.len() == 1 && second.len() == 1 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("hello"), first.first().Payload())
}

func TestSubscription_Close(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := t.Context()
	dst := core.Destination{Name: "orders"}

	var c collector
	sub, err := b.Subscribe(ctx, core.SubscribeOptions{Destination: dst, Group: "g", Partition: -1}, c.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, b.Publish(ctx, dst, core.NewMessage("late", nil)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.len())
}

func TestClose(t *testing.T) {
	b, _ := newTestBroker(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.Publish(t.Context(), core.Destination{Name: "x"}, core.NewMessage("a", nil))
	assert.ErrorIs(t, err, core.ErrBrokerClosed)
	_, err = b.Subscribe(t.Context(), core.SubscribeOptions{Destination: core.Destination{Name: "x"}}, nil)
	assert.ErrorIs(t, err, core.ErrBrokerClosed)
}

func TestFactory(t *testing.T) {
	m := miniredis.RunT(t)

	_, err := broker.Create("redis", broker.Config{})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	br, err := broker.Create("redis", broker.Config{
		Brokers: []string{m.Addr()},
		Group:   "fallback",
		Extra:   map[string]any{"headers": []any{"trace"}},
	})
	require.NoError(t, err)
	defer br.Close()

	rb := br.(*Broker)
	assert.Equal(t, "fallback", rb.opts.defaultGroup)
	assert.Contains(t, rb.headers, "trace")
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New("127.0.0.1:1")
	assert.Error(t, err)
}
