// Package redis implements a core.Broker on Redis.
//
// Messages of a destination are copied to one list per consumer group,
// queue.<destination>.<group>, and group members compete for them with
// BRPOP. The groups of a destination are kept in the set groups.<destination>.
// Pub/sub destinations are also published on the channel
// topic.<destination>, which anonymous consumers subscribe to.
//
// Redis carries no message headers, so they are embedded in the payload
// with core.EmbedHeaders.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/miladsoleymani/cloudstream/broker"
	"github.com/miladsoleymani/cloudstream/core"
)

func init() {
	broker.Register("redis", func(cfg broker.Config) (core.Broker, error) {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("%w: redis: a server address is required", core.ErrConfiguration)
		}
		opts := optsFromConfig(cfg)
		if cfg.Group != "" {
			opts = append(opts, WithDefaultGroup(cfg.Group))
		}
		return New(cfg.Brokers[0], opts...)
	})
}

// QueueKey returns the list holding messages of dst for group.
func QueueKey(dst core.Destination, group string) string {
	return "queue." + dst.Name + "." + group
}

// GroupsKey returns the set of consumer groups registered for dst.
func GroupsKey(dst core.Destination) string {
	return "groups." + dst.Name
}

// TopicChannel returns the pub/sub channel of dst.
func TopicChannel(dst core.Destination) string {
	return "topic." + dst.Name
}

// Broker implements core.Broker on Redis lists and pub/sub channels.
type Broker struct {
	client  goredis.UniversalClient
	opts    options
	headers []string
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

var _ core.Broker = (*Broker)(nil)

// New connects to the Redis server at addr.
func New(addr string, fns ...Option) (*Broker, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: opts.password,
		DB:       opts.db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %q: %w", addr, err)
	}
	return newBroker(client, opts), nil
}

// NewWithClient creates a Broker on an existing client. Closing the Broker
// closes the client.
func NewWithClient(client goredis.UniversalClient, fns ...Option) *Broker {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return newBroker(client, opts)
}

func newBroker(client goredis.UniversalClient, opts options) *Broker {
	headers := append([]string{core.HeaderID, core.HeaderPartition}, core.StandardHeaders...)
	headers = append(headers, opts.headers...)
	return &Broker{
		client:  client,
		opts:    opts,
		headers: headers,
		logger:  slog.Default().With("broker", "redis"),
		subs:    make(map[*subscription]struct{}),
	}
}

func (b *Broker) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBrokerClosed
	}
	return nil
}

// Publish pushes msg onto the queue of every registered group and, for
// pub/sub destinations, publishes it on the topic channel.
func (b *Broker) Publish(ctx context.Context, dst core.Destination, msg *core.Message) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	payload, err := core.PayloadBytes(msg)
	if err != nil {
		return fmt.Errorf("redis: publish to %q: %w", dst.Name, err)
	}
	data, err := core.EmbedHeaders(msg, payload, b.headers...)
	if err != nil {
		return fmt.Errorf("redis: publish to %q: %w", dst.Name, err)
	}

	groups, err := b.client.SMembers(ctx, GroupsKey(dst)).Result()
	if err != nil {
		return fmt.Errorf("redis: groups of %q: %w", dst.Name, err)
	}
	if len(groups) == 0 && !dst.PubSub {
		groups = []string{b.opts.defaultGroup}
	}
	slices.Sort(groups)

	_, err = b.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for _, g := range groups {
			p.LPush(ctx, QueueKey(dst, g), data)
		}
		if dst.PubSub {
			p.Publish(ctx, TopicChannel(dst), data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish to %q: %w", dst.Name, err)
	}
	return nil
}

// Subscribe registers the consumer group and starts consuming in the
// background. Anonymous consumers of pub/sub destinations subscribe to the
// topic channel instead.
func (b *Broker) Subscribe(ctx context.Context, opts core.SubscribeOptions, handler core.Handler) (io.Closer, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{broker: b, cancel: cancel}

	if opts.Anonymous && opts.Destination.PubSub {
		ps := b.client.Subscribe(ctx, TopicChannel(opts.Destination))
		if _, err := ps.Receive(ctx); err != nil {
			cancel()
			ps.Close()
			return nil, fmt.Errorf("redis: subscribe %q: %w", TopicChannel(opts.Destination), err)
		}
		sub.pubsub = ps
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for m := range ps.Channel() {
				b.deliver(subCtx, []byte(m.Payload), m.Channel, handler)
			}
		}()
	} else {
		if err := b.client.SAdd(ctx, GroupsKey(opts.Destination), opts.Group).Err(); err != nil {
			cancel()
			return nil, fmt.Errorf("redis: register group %q: %w", opts.Group, err)
		}
		key := QueueKey(opts.Destination, opts.Group)
		for range max(opts.Concurrency, 1) {
			sub.wg.Add(1)
			go func() {
				defer sub.wg.Done()
				b.pollLoop(subCtx, key, handler)
			}()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		go sub.Close()
		return nil, core.ErrBrokerClosed
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

func (b *Broker) pollLoop(ctx context.Context, key string, handler core.Handler) {
	for ctx.Err() == nil {
		res, err := b.client.BRPop(ctx, b.opts.pollTimeout, key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, goredis.ErrClosed) {
				b.logger.Error("poll failed", "queue", key, "error", err)
			}
			return
		}
		// res is [key, value]
		b.deliver(ctx, []byte(res[1]), key, handler)
	}
}

func (b *Broker) deliver(ctx context.Context, data []byte, source string, handler core.Handler) {
	headers, payload, err := core.ExtractHeaders(data)
	if err != nil {
		b.logger.Error("malformed message", "source", source, "error", err)
		return
	}
	if err := handler(ctx, core.NewMessage(payload, headers)); err != nil {
		b.logger.Warn("handler failed", "source", source, "error", err)
	}
}

// Close stops all consumers and closes the client.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis: close: %w", err))
	}
	return errors.Join(errs...)
}

type subscription struct {
	broker *Broker
	cancel context.CancelFunc
	pubsub *goredis.PubSub
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		if s.pubsub != nil {
			if err := s.pubsub.Close(); err != nil {
				s.err = fmt.Errorf("redis: unsubscribe: %w", err)
			}
		}
		s.wg.Wait()

		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return s.err
}

// optsFromConfig extracts options from broker.Config.Extra.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if v, ok := cfg.ExtraString("password"); ok {
		opts = append(opts, WithPassword(v))
	}
	if v, ok := cfg.ExtraInt("db"); ok {
		opts = append(opts, WithDB(v))
	}
	if v, ok := cfg.Extra["headers"].([]any); ok {
		for _, h := range v {
			if s, ok := h.(string); ok {
				opts = append(opts, WithHeaders(s))
			}
		}
	}
	return opts
}
