// Package memory implements an in-process core.Broker.
//
// Delivery is synchronous: Publish runs the matching handlers on the
// calling goroutine and returns their errors. Each consumer group of a
// matching subscription receives the message once, with group members
// served round-robin. Subscriptions may use wildcard destinations
// ("orders.*", "orders.#").
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/miladsoleymani/cloudstream/broker"
	"github.com/miladsoleymani/cloudstream/core"
)

func init() {
	broker.Register("memory", func(broker.Config) (core.Broker, error) {
		return New(), nil
	})
}

// Option configures the memory broker.
type Option func(*Broker)

// WithMatcher replaces the wildcard matcher.
func WithMatcher(m core.DestinationMatcher) Option {
	return func(b *Broker) { b.matcher = m }
}

// Broker is an in-process transport for tests and single-process apps.
type Broker struct {
	matcher core.DestinationMatcher

	mu     sync.Mutex
	groups map[groupKey]*group
	closed bool
}

type groupKey struct {
	pattern string
	name    string
}

type group struct {
	members []*member
	next    int
}

type member struct {
	handler core.Handler
}

var _ core.Broker = (*Broker)(nil)

// New creates an empty memory broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		matcher: core.WildcardMatcher{},
		groups:  make(map[groupKey]*group),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers msg to one member of every group subscribed to a
// matching destination.
func (b *Broker) Publish(ctx context.Context, dst core.Destination, msg *core.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	var targets []core.Handler
	for key, g := range b.groups {
		if len(g.members) == 0 || !b.matcher.Match(key.pattern, dst.Name) {
			continue
		}
		m := g.members[g.next%len(g.members)]
		g.next++
		targets = append(targets, m.handler)
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("memory: deliver to %q: %w", dst.Name, err)
	}
	return nil
}

// Subscribe adds handler to the group. Concurrency is ignored.
func (b *Broker) Subscribe(_ context.Context, opts core.SubscribeOptions, handler core.Handler) (io.Closer, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: memory: nil handler", core.ErrConfiguration)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBrokerClosed
	}

	key := groupKey{pattern: opts.Destination.Name, name: opts.Group}
	g, ok := b.groups[key]
	if !ok {
		g = &group{}
		b.groups[key] = g
	}
	m := &member{handler: handler}
	g.members = append(g.members, m)
	return &subscription{broker: b, key: key, member: m}, nil
}

// Groups returns the number of consumer groups with at least one member.
func (b *Broker) Groups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups)
}

// Close drops all subscriptions.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.groups)
	return nil
}

type subscription struct {
	broker *Broker
	key    groupKey
	member *member
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		g, ok := b.groups[s.key]
		if !ok {
			return
		}
		for i, m := range g.members {
			if m == s.member {
				g.members = append(g.members[:i:i], g.members[i+1:]...)
				break
			}
		}
		if len(g.members) == 0 {
			delete(b.groups, s.key)
		}
	})
	return nil
}
