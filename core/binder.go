package core

import "context"

// Binding is an active association between a local channel and a physical
// destination.
type Binding interface {
	// Name returns the name of the bound local channel.
	Name() string

	// Destination returns the physical destination.
	Destination() Destination

	// Unbind releases the subscription or producer. Calling it more than
	// once is a no-op.
	Unbind() error
}

// Binder connects local channels to a message broker. Every transport is
// exposed to the binding service through this contract.
//
// Bind operations may perform network I/O and are expected to be called
// from a single startup goroutine per (channel, direction) pair.
type Binder interface {
	// BindConsumer starts delivering messages from a point-to-point
	// destination into channel.
	BindConsumer(ctx context.Context, destination string, channel MessageChannel, props Properties) (Binding, error)

	// BindPubSubConsumer is BindConsumer with fan-out semantics.
	BindPubSubConsumer(ctx context.Context, destination string, channel MessageChannel, props Properties) (Binding, error)

	// BindProducer forwards every message sent on channel to destination.
	BindProducer(ctx context.Context, destination string, channel SubscribableChannel, props Properties) (Binding, error)

	// BindPubSubProducer is BindProducer with fan-out semantics.
	BindPubSubProducer(ctx context.Context, destination string, channel SubscribableChannel, props Properties) (Binding, error)

	// UnbindConsumers releases all consumer bindings of the named channel.
	// Unbinding an unbound channel is a no-op.
	UnbindConsumers(channelName string) error

	// UnbindProducers releases all producer bindings of the named channel.
	// Unbinding an unbound channel is a no-op.
	UnbindProducers(channelName string) error
}
