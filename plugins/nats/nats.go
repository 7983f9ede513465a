package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/cloudstream/broker"
	"github.com/miladsoleymani/cloudstream/core"
)

func init() {
	broker.Register("nats", func(cfg broker.Config) (core.Broker, error) {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("%w: nats: at least one server URL is required", core.ErrConfiguration)
		}
		return New(strings.Join(cfg.Brokers, ","), optsFromConfig(cfg)...)
	})
}

// Broker implements core.Broker for NATS JetStream.
//
// Design decisions:
//   - One NATS connection per Broker instance.
//   - One stream per destination, created by Provision or on first Subscribe.
//   - A durable consumer per consumer group; subscribers of one group share
//     it and compete for messages.
//   - Anonymous groups get an ephemeral consumer that starts at new
//     messages and is deleted on unsubscribe.
//   - Messages are acked after the handler succeeds and nacked otherwise.
type Broker struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	opts   options
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

var (
	_ core.Broker      = (*Broker)(nil)
	_ core.Provisioner = (*Broker)(nil)
)

// New creates a NATS JetStream Broker. url is a standard NATS URL
// (nats://host:port) or a comma-separated list of them.
func New(url string, fns ...Option) (*Broker, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats: connect to %q: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return &Broker{
		conn:   nc,
		js:     js,
		opts:   opts,
		logger: slog.Default().With("broker", "nats"),
		subs:   make(map[*subscription]struct{}),
	}, nil
}

// Publish sends a message to the destination subject via JetStream.
func (b *Broker) Publish(ctx context.Context, dst core.Destination, msg *core.Message) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	data, err := core.PayloadBytes(msg)
	if err != nil {
		return fmt.Errorf("nats: publish to %q: %w", dst.Name, err)
	}
	nm := &nats.Msg{
		Subject: dst.Name,
		Data:    data,
		Header:  toHeader(msg.Headers()),
	}
	if _, err := b.js.PublishMsg(ctx, nm); err != nil {
		return fmt.Errorf("nats: publish to %q: %w", dst.Name, err)
	}
	return nil
}

// Provision creates or updates the stream backing the destination.
func (b *Broker) Provision(ctx context.Context, dst core.Destination) error {
	_, err := b.stream(ctx, dst)
	return err
}

func (b *Broker) stream(ctx context.Context, dst core.Destination) (jetstream.Stream, error) {
	name := sanitizeName(dst.Name)
	stream, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{dst.Name},
		MaxMsgs:   b.opts.maxMsgs,
		MaxBytes:  b.opts.maxBytes,
		MaxAge:    b.opts.maxAge,
		Replicas:  b.opts.replicas,
		Retention: b.opts.retention,
		Storage:   b.opts.storage,
	})
	if err != nil {
		return nil, fmt.Errorf("nats: create stream %q: %w", name, err)
	}
	return stream, nil
}

// Subscribe creates the consumer for the group and starts delivering
// messages in the background.
func (b *Broker) Subscribe(ctx context.Context, opts core.SubscribeOptions, handler core.Handler) (io.Closer, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	stream, err := b.stream(ctx, opts.Destination)
	if err != nil {
		return nil, err
	}

	cfg := jetstream.ConsumerConfig{
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    b.opts.ackWait,
		MaxDeliver: b.opts.maxDeliver,
	}
	if opts.Anonymous {
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
		cfg.InactiveThreshold = b.opts.inactiveThreshold
	} else {
		cfg.Durable = sanitizeName(opts.Group)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("nats: create consumer for group %q: %w", opts.Group, err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{broker: b, stream: stream, cancel: cancel}
	if opts.Anonymous {
		sub.ephemeral = cons.CachedInfo().Name
	}

	for range max(opts.Concurrency, 1) {
		cc, err := cons.Consume(func(m jetstream.Msg) {
			if err := handler(subCtx, toMessage(m.Headers(), m.Data())); err != nil {
				b.logger.Warn("handler failed", "subject", m.Subject(), "error", err)
				_ = m.Nak()
				return
			}
			if err := m.Ack(); err != nil {
				b.logger.Error("ack failed", "subject", m.Subject(), "error", err)
			}
		})
		if err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("nats: consume %q: %w", opts.Destination.Name, err)
		}
		sub.consumers = append(sub.consumers, cc)
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

func (b *Broker) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBrokerClosed
	}
	return nil
}

// Close stops all consumers and drains the NATS connection.
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
	if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, fmt.Errorf("nats: drain: %w", err))
	}
	return errors.Join(errs...)
}

type subscription struct {
	broker    *Broker
	stream    jetstream.Stream
	ephemeral string
	cancel    context.CancelFunc
	consumers []jetstream.ConsumeContext
	once      sync.Once
	err       error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		for _, cc := range s.consumers {
			cc.Stop()
		}
		s.cancel()
		if s.ephemeral != "" {
			if err := s.stream.DeleteConsumer(context.Background(), s.ephemeral); err != nil &&
				!errors.Is(err, jetstream.ErrConsumerNotFound) {
				s.err = fmt.Errorf("nats: delete consumer %q: %w", s.ephemeral, err)
			}
		}
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return s.err
}

// sanitizeName converts a subject or group to a valid stream or consumer
// name by replacing characters JetStream reserves.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\':
			return '-'
		}
		return r
	}, name)
}

// optsFromConfig extracts options from broker.Config.Extra.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if v, ok := cfg.ExtraInt("max_deliver"); ok {
		opts = append(opts, WithMaxDeliver(v))
	}
	if v, ok := cfg.ExtraInt("replicas"); ok {
		opts = append(opts, WithReplicas(v))
	}
	if v, ok := cfg.ExtraInt("max_msgs"); ok {
		opts = append(opts, WithMaxMessages(int64(v)))
	}
	if v, ok := cfg.ExtraString("storage"); ok && v == "memory" {
		opts = append(opts, WithStorage(jetstream.MemoryStorage))
	}
	if v, ok := cfg.ExtraString("retention"); ok && v == "workqueue" {
		opts = append(opts, WithRetention(jetstream.WorkQueuePolicy))
	}
	return opts
}
