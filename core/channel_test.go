package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/cloudstream/core"
)

func TestDirectChannel_RoundRobin(t *testing.T) {
	ch := core.NewDirectChannel("in")
	var got []string
	ch.Subscribe(func(context.Context, *core.Message) error { got = append(got, "a"); return nil })
	ch.Subscribe(func(context.Context, *core.Message) error { got = append(got, "b"); return nil })

	for i := 0; i < 4; i++ {
		require.NoError(t, ch.Send(context.Background(), core.NewMessage("x", nil)))
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, got)
}

func TestDirectChannel_NoSubscribers(t *testing.T) {
	ch := core.NewDirectChannel("in")
	err := ch.Send(context.Background(), core.NewMessage("x", nil))
	assert.ErrorIs(t, err, core.ErrNoSubscribers)
}

func TestDirectChannel_Unsubscribe(t *testing.T) {
	ch := core.NewDirectChannel("in")
	calls := 0
	unsubscribe := ch.Subscribe(func(context.Context, *core.Message) error { calls++; return nil })

	require.NoError(t, ch.Send(context.Background(), core.NewMessage("x", nil)))
	unsubscribe()
	unsubscribe()

	assert.ErrorIs(t, ch.Send(context.Background(), core.NewMessage("x", nil)), core.ErrNoSubscribers)
	assert.Equal(t, 1, calls)
}

func TestPublishSubscribeChannel_FanOut(t *testing.T) {
	ch := core.NewPublishSubscribeChannel("events")
	boom := errors.New("boom")
	var got []string
	ch.Subscribe(func(context.Context, *core.Message) error { got = append(got, "a"); return nil })
	ch.Subscribe(func(context.Context, *core.Message) error { got = append(got, "b"); return boom })
	ch.Subscribe(func(context.Context, *core.Message) error { got = append(got, "c"); return nil })

	err := ch.Send(context.Background(), core.NewMessage("x", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestMessage_Immutable(t *testing.T) {
	h := core.Headers{"x": 1}
	msg := core.NewMessage("payload", h)
	h["x"] = 2

	v, ok := msg.Header("x")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.NotEmpty(t, msg.ID())

	headers := msg.Headers()
	headers["x"] = 3
	v, _ = msg.Header("x")
	assert.Equal(t, 1, v)

	other := msg.WithHeader("x", 4)
	v, _ = msg.Header("x")
	assert.Equal(t, 1, v)
	v, _ = other.Header("x")
	assert.Equal(t, 4, v)
	assert.Equal(t, msg.ID(), other.ID())
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) core.Middleware {
		return func(next core.Handler) core.Handler {
			return func(ctx context.Context, msg *core.Message) error {
				order = append(order, name+":before")
				err := next(ctx, msg)
				order = append(order, name+":after")
				return err
			}
		}
	}
	h := core.Chain(func(context.Context, *core.Message) error {
		order = append(order, "handler")
		return nil
	}, mw("A"), mw("B"))

	require.NoError(t, h(context.Background(), core.NewMessage(nil, nil)))
	assert.Equal(t, []string{"A:before", "B:before", "handler", "B:after", "A:after"}, order)
}
