package binding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/cloudstream/binding"
	"github.com/miladsoleymani/cloudstream/core"
	"github.com/miladsoleymani/cloudstream/internal/mock"
)

type resolver map[string]core.Binder

func (r resolver) Binder(name string) (core.Binder, error) {
	if name == "" {
		name = "default"
	}
	b, ok := r[name]
	if !ok {
		return nil, core.ErrBinderResolution
	}
	return b, nil
}

func newService(b core.Binder, props binding.Properties) *binding.Service {
	return binding.NewService(resolver{"default": b}, props)
}

func TestService_DestinationPrefix(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name        string
		destination string
		consumerOp  string
		producerOp  string
		want        string
	}{
		{name: "point to point", destination: "orders", consumerOp: "BindConsumer", producerOp: "BindProducer", want: "orders"},
		{name: "pubsub", destination: "topic:orders", consumerOp: "BindPubSubConsumer", producerOp: "BindPubSubProducer", want: "orders"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mock.NewBinder()
			s := newService(b, binding.Properties{Bindings: map[string]binding.ChannelProperties{
				"in":  {Destination: tt.destination},
				"out": {Destination: tt.destination},
			}})

			_, err := s.BindConsumer(ctx, core.NewDirectChannel("in"), "in")
			require.NoError(t, err)
			_, err = s.BindProducer(ctx, core.NewDirectChannel("out"), "out")
			require.NoError(t, err)

			calls := b.Calls()
			require.Len(t, calls, 2)
			assert.Equal(t, tt.consumerOp, calls[0].Op)
			assert.Equal(t, tt.want, calls[0].Destination)
			assert.Equal(t, tt.producerOp, calls[1].Op)
			assert.Equal(t, tt.want, calls[1].Destination)
		})
	}
}

func TestService_ConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	s := newService(mock.NewBinder(), binding.Properties{Bindings: map[string]binding.ChannelProperties{
		"blank":    {Destination: "  "},
		"bare":     {Destination: "topic:"},
		"nobinder": {Destination: "orders", Binder: "missing"},
	}})

	for _, name := range []string{"blank", "bare", "unknown"} {
		_, err := s.BindConsumer(ctx, core.NewDirectChannel(name), name)
		assert.ErrorIs(t, err, core.ErrConfiguration, name)
		_, err = s.BindProducer(ctx, core.NewDirectChannel(name), name)
		assert.ErrorIs(t, err, core.ErrConfiguration, name)
	}

	_, err := s.BindConsumer(ctx, core.NewDirectChannel("nobinder"), "nobinder")
	assert.ErrorIs(t, err, core.ErrBinderResolution)
}

func TestService_BindErrorLeavesUnbound(t *testing.T) {
	ctx := context.Background()
	b := mock.NewBinder()
	b.BindErr = core.ErrBinderResolution
	s := newService(b, binding.Properties{Bindings: map[string]binding.ChannelProperties{"in": {Destination: "orders"}}})

	_, err := s.BindConsumer(ctx, core.NewDirectChannel("in"), "in")
	require.ErrorIs(t, err, core.ErrBinderResolution)
	consumer, _ := s.Bound("in")
	assert.False(t, consumer)

	b.BindErr = nil
	_, err = s.BindConsumer(ctx, core.NewDirectChannel("in"), "in")
	assert.NoError(t, err)
}

func TestService_StateMachine(t *testing.T) {
	ctx := context.Background()
	b := mock.NewBinder()
	s := newService(b, binding.Properties{Bindings: map[string]binding.ChannelProperties{
		"in": {Destination: "orders", Consumer: core.Properties{core.PropGroup: "g"}},
	}})
	ch := core.NewDirectChannel("in")

	require.NoError(t, s.UnbindConsumers("in"))
	assert.Empty(t, b.Calls())

	_, err := s.BindConsumer(ctx, ch, "in")
	require.NoError(t, err)
	_, err = s.BindConsumer(ctx, ch, "in")
	assert.ErrorIs(t, err, core.ErrAlreadyBound)

	_, err = s.BindProducer(ctx, core.NewDirectChannel("in"), "in")
	require.NoError(t, err, "directions are independent")

	require.NoError(t, s.UnbindConsumers("in"))
	require.NoError(t, s.UnbindConsumers("in"))
	consumer, producer := s.Bound("in")
	assert.False(t, consumer)
	assert.True(t, producer)

	_, err = s.BindConsumer(ctx, ch, "in")
	require.NoError(t, err)

	calls := b.Calls()
	assert.Equal(t, []string{"BindConsumer", "BindProducer", "UnbindConsumers", "BindConsumer"}, b.Ops())
	assert.Equal(t, calls[0].Destination, calls[3].Destination)
	assert.Equal(t, calls[0].Props, calls[3].Props)
}

func TestService_UnbindAll(t *testing.T) {
	ctx := context.Background()
	b := mock.NewBinder()
	s := newService(b, binding.Properties{Bindings: map[string]binding.ChannelProperties{
		"in":  {Destination: "orders"},
		"out": {Destination: "invoices"},
	}})

	_, err := s.BindProducer(ctx, core.NewDirectChannel("out"), "out")
	require.NoError(t, err)
	_, err = s.BindConsumer(ctx, core.NewDirectChannel("in"), "in")
	require.NoError(t, err)

	require.NoError(t, s.UnbindAll())
	assert.Equal(t, []string{"BindProducer", "BindConsumer", "UnbindConsumers", "UnbindProducers"}, b.Ops())

	consumer, producer := s.Bound("in")
	assert.False(t, consumer || producer)
	require.NoError(t, s.UnbindAll())
	assert.Len(t, b.Calls(), 4)
}

func TestService_ProducerPartitionCount(t *testing.T) {
	b := mock.NewBinder()
	s := newService(b, binding.Properties{Bindings: map[string]binding.ChannelProperties{
		"out":      {Destination: "orders", PartitionCount: 3},
		"explicit": {Destination: "orders", PartitionCount: 3, Producer: core.Properties{core.PropPartitionCount: "5"}},
	}})
	_, err := s.BindProducer(context.Background(), core.NewDirectChannel("out"), "out")
	require.NoError(t, err)
	_, err = s.BindProducer(context.Background(), core.NewDirectChannel("explicit"), "explicit")
	require.NoError(t, err)

	calls := b.Calls()
	assert.Equal(t, "3", calls[0].Props[core.PropPartitionCount])
	assert.Equal(t, "5", calls[1].Props[core.PropPartitionCount])
}

func TestService_BindingConsumerProperties(t *testing.T) {
	bindings := map[string]binding.ChannelProperties{
		"plain": {Destination: "a", Consumer: core.Properties{core.PropGroup: "g"}},
		"part": {Destination: "b", Partitioned: true, PartitionCount: 4,
			Consumer: core.Properties{core.PropGroup: "g"}},
		"part-nil": {Destination: "c", Partitioned: true, PartitionCount: 4},
	}
	augmented := core.Properties{
		core.PropCount:             "3",
		core.PropPartitionIndex:    "1",
		core.PropMinPartitionCount: "4",
		core.PropNextModuleCount:   "4",
	}

	s := newService(mock.NewBinder(), binding.Properties{InstanceIndex: 1, InstanceCount: 3, Bindings: bindings})

	props, err := s.BindingConsumerProperties("plain")
	require.NoError(t, err)
	assert.Equal(t, core.Properties{core.PropGroup: "g"}, props)

	props, err = s.BindingConsumerProperties("part")
	require.NoError(t, err)
	want := augmented.Clone()
	want[core.PropGroup] = "g"
	assert.Equal(t, want, props)
	assert.Len(t, bindings["part"].Consumer, 1, "source properties are not modified")

	_, err = s.BindingConsumerProperties("missing")
	assert.ErrorIs(t, err, core.ErrConfiguration)

	t.Run("nil consumer properties", func(t *testing.T) {
		props, err := s.BindingConsumerProperties("part-nil")
		require.NoError(t, err)
		assert.Equal(t, augmented, props)
	})

	t.Run("legacy fall through", func(t *testing.T) {
		legacy := newService(mock.NewBinder(), binding.Properties{
			InstanceIndex: 1, InstanceCount: 3, LegacyPartitionedFallThrough: true, Bindings: bindings,
		})
		props, err := legacy.BindingConsumerProperties("part-nil")
		require.NoError(t, err)
		assert.Nil(t, props)

		props, err = legacy.BindingConsumerProperties("part")
		require.NoError(t, err)
		assert.Equal(t, "1", props[core.PropPartitionIndex])
	})

	t.Run("used for consumer binds", func(t *testing.T) {
		b := mock.NewBinder()
		s := newService(b, binding.Properties{InstanceIndex: 1, InstanceCount: 3, Bindings: bindings})
		_, err := s.BindConsumer(context.Background(), core.NewDirectChannel("part-nil"), "part-nil")
		require.NoError(t, err)
		assert.Equal(t, augmented, b.Calls()[0].Props)
	})
}

func TestChannelResolver(t *testing.T) {
	ctx := context.Background()
	b := mock.NewBinder()
	s := newService(b, binding.Properties{Bindings: map[string]binding.ChannelProperties{
		"replies": {Destination: "topic:replies"},
	}})
	components := core.NewComponents()
	require.NoError(t, components.Register("local", core.NewPublishSubscribeChannel("local")))
	require.NoError(t, components.Register("not-a-channel", 42))

	r := binding.NewChannelResolver(ctx, components, s)

	ch, err := r.Resolve("replies")
	require.NoError(t, err)
	again, err := r.Resolve("replies")
	require.NoError(t, err)
	assert.Same(t, ch, again)
	assert.Equal(t, []string{"BindPubSubProducer"}, b.Ops())

	local, err := r.Resolve("local")
	require.NoError(t, err)
	assert.Equal(t, "local", local.Name())
	assert.Len(t, b.Calls(), 1)

	_, err = r.Resolve("not-a-channel")
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = r.Resolve("unconfigured")
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, ok := r.Lookup("unconfigured")
	assert.False(t, ok)

	dynamic := binding.NewChannelResolver(ctx, components, s, binding.WithDynamicDestinations())
	_, err = dynamic.Resolve("audit")
	require.NoError(t, err)
	calls := b.Calls()
	assert.Equal(t, "BindProducer", calls[len(calls)-1].Op)
	assert.Equal(t, "audit", calls[len(calls)-1].Destination)
}

func TestService_UnbindError(t *testing.T) {
	ctx := context.Background()
	fail := &failingBinder{Binder: mock.NewBinder()}
	s := binding.NewService(resolver{"default": fail}, binding.Properties{Bindings: map[string]binding.ChannelProperties{
		"in": {Destination: "orders"},
	}})
	_, err := s.BindConsumer(ctx, core.NewDirectChannel("in"), "in")
	require.NoError(t, err)

	err = s.UnbindConsumers("in")
	assert.ErrorContains(t, err, "broker gone")
	consumer, _ := s.Bound("in")
	assert.False(t, consumer)
}

type failingBinder struct {
	*mock.Binder
}

func (f *failingBinder) UnbindConsumers(string) error { return errors.New("broker gone") }
