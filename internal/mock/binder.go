package mock

import (
	"context"
	"sync"

	"github.com/miladsoleymani/cloudstream/core"
)

// Call records one Binder invocation.
type Call struct {
	Op          string
	Destination string
	Channel     string
	Props       core.Properties
}

// Binder is a test double for core.Binder that records every call.
type Binder struct {
	mu      sync.Mutex
	calls   []Call
	BindErr error
}

func NewBinder() *Binder { return &Binder{} }

func (b *Binder) record(c Call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
}

func (b *Binder) bind(op, destination string, ch core.MessageChannel, props core.Properties) (core.Binding, error) {
	if b.BindErr != nil {
		return nil, b.BindErr
	}
	b.record(Call{Op: op, Destination: destination, Channel: ch.Name(), Props: props})
	return &Binding{binder: b, name: ch.Name(), dst: core.Destination{Name: destination}}, nil
}

func (b *Binder) BindConsumer(_ context.Context, destination string, ch core.MessageChannel, props core.Properties) (core.Binding, error) {
	return b.bind("BindConsumer", destination, ch, props)
}

func (b *Binder) BindPubSubConsumer(_ context.Context, destination string, ch core.MessageChannel, props core.Properties) (core.Binding, error) {
	return b.bind("BindPubSubConsumer", destination, ch, props)
}

func (b *Binder) BindProducer(_ context.Context, destination string, ch core.SubscribableChannel, props core.Properties) (core.Binding, error) {
	return b.bind("BindProducer", destination, ch, props)
}

func (b *Binder) BindPubSubProducer(_ context.Context, destination string, ch core.SubscribableChannel, props core.Properties) (core.Binding, error) {
	return b.bind("BindPubSubProducer", destination, ch, props)
}

func (b *Binder) UnbindConsumers(name string) error {
	b.record(Call{Op: "UnbindConsumers", Channel: name})
	return nil
}

func (b *Binder) UnbindProducers(name string) error {
	b.record(Call{Op: "UnbindProducers", Channel: name})
	return nil
}

// Calls returns the recorded calls.
func (b *Binder) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Ops returns the recorded operation names.
func (b *Binder) Ops() []string {
	var out []string
	for _, c := range b.Calls() {
		out = append(out, c.Op)
	}
	return out
}

// Binding is the core.Binding returned by Binder.
type Binding struct {
	binder *Binder
	name   string
	dst    core.Destination
}

func (b *Binding) Name() string                  { return b.name }
func (b *Binding) Destination() core.Destination { return b.dst }

func (b *Binding) Unbind() error {
	b.binder.record(Call{Op: "Unbind", Channel: b.name, Destination: b.dst.Name})
	return nil
}
