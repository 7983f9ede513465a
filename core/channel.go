package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MessageChannel is a named local endpoint messages can be sent to.
type MessageChannel interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// SubscribableChannel is a MessageChannel that pushes messages to subscribers.
type SubscribableChannel interface {
	MessageChannel

	// Subscribe registers h and returns a function that removes it again.
	// The returned function is safe to call more than once.
	Subscribe(h Handler) (unsubscribe func())
}

type subscriber struct {
	id uint64
	h  Handler
}

type subscribers struct {
	mu     sync.RWMutex
	nextID uint64
	list   []subscriber
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.list = append(s.list, subscriber{id: id, h: h})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.list {
				if sub.id == id {
					s.list = append(s.list[:i:i], s.list[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *subscribers) snapshot() []subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list
}

// DirectChannel hands each message to exactly one subscriber on the sending
// goroutine, rotating between subscribers.
type DirectChannel struct {
	name string
	subs subscribers
	next atomic.Uint64
}

// NewDirectChannel creates a DirectChannel.
func NewDirectChannel(name string) *DirectChannel {
	return &DirectChannel{name: name}
}

// Name returns the channel name.
func (c *DirectChannel) Name() string { return c.name }

// Subscribe adds h and returns a function removing it.
func (c *DirectChannel) Subscribe(h Handler) func() { return c.subs.add(h) }

// Send delivers msg to the next subscriber. Handler errors are returned as-is.
func (c *DirectChannel) Send(ctx context.Context, msg *Message) error {
	list := c.subs.snapshot()
	if len(list) == 0 {
		return fmt.Errorf("%w: %q", ErrNoSubscribers, c.name)
	}
	i := (c.next.Add(1) - 1) % uint64(len(list))
	return list[i].h(ctx, msg)
}

// PublishSubscribeChannel hands each message to every subscriber, in
// subscription order, stopping at the first error.
type PublishSubscribeChannel struct {
	name string
	subs subscribers
}

// NewPublishSubscribeChannel creates a PublishSubscribeChannel.
func NewPublishSubscribeChannel(name string) *PublishSubscribeChannel {
	return &PublishSubscribeChannel{name: name}
}

// Name returns the channel name.
func (c *PublishSubscribeChannel) Name() string { return c.name }

// Subscribe adds h and returns a function removing it.
func (c *PublishSubscribeChannel) Subscribe(h Handler) func() { return c.subs.add(h) }

// Send delivers msg to all subscribers. Sending without subscribers is
// not an error.
func (c *PublishSubscribeChannel) Send(ctx context.Context, msg *Message) error {
	for _, s := range c.subs.snapshot() {
		if err := s.h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
