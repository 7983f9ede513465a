package mock

import (
	"context"
	"io"
	"sync"

	"github.com/miladsoleymani/cloudstream/core"
)

// Broker is a test double for core.Broker. It also implements
// core.Provisioner and core.NativePartitioner.
type Broker struct {
	mu           sync.Mutex
	published    []PublishedMessage
	subs         []*Subscription
	provisioned  []core.Destination
	SubscribeErr error
	PublishErr   error
	ProvisionErr error
	Native       bool
	closed       bool
}

// PublishedMessage records a message sent through Publish.
type PublishedMessage struct {
	Destination core.Destination
	Message     *core.Message
}

// Subscription records a Subscribe call.
type Subscription struct {
	Options core.SubscribeOptions
	Handler core.Handler
	broker  *Broker
	closed  bool
}

// Close stops delivery to the subscription.
func (s *Subscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.closed = true
	return nil
}

func NewBroker() *Broker {
	return &Broker{}
}

func (b *Broker) Publish(_ context.Context, dst core.Destination, msg *core.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBrokerClosed
	}
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.published = append(b.published, PublishedMessage{Destination: dst, Message: msg})
	return nil
}

func (b *Broker) Subscribe(_ context.Context, opts core.SubscribeOptions, h core.Handler) (io.Closer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBrokerClosed
	}
	if b.SubscribeErr != nil {
		return nil, b.SubscribeErr
	}
	s := &Subscription{Options: opts, Handler: h, broker: b}
	b.subs = append(b.subs, s)
	return s, nil
}

func (b *Broker) Provision(_ context.Context, dst core.Destination) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ProvisionErr != nil {
		return b.ProvisionErr
	}
	b.provisioned = append(b.provisioned, dst)
	return nil
}

func (b *Broker) NativePartitioning() bool { return b.Native }

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Deliver simulates an incoming message on every open subscription to the
// named destination. It returns the first handler error.
func (b *Broker) Deliver(ctx context.Context, destination string, msg *core.Message) error {
	for _, s := range b.Subscriptions() {
		if s.Options.Destination.Name != destination {
			continue
		}
		if err := s.Handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscriptions returns the subscriptions that have not been closed.
func (b *Broker) Subscriptions() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Subscription
	for _, s := range b.subs {
		if !s.closed {
			out = append(out, s)
		}
	}
	return out
}

// Published returns all messages sent via Publish.
func (b *Broker) Published() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

// Provisioned returns the destinations passed to Provision.
func (b *Broker) Provisioned() []core.Destination {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Destination(nil), b.provisioned...)
}

// IsClosed reports whether Close was called.
func (b *Broker) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
