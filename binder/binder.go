// Package binder turns broker transports into core.Binder implementations
// and resolves binders by name.
package binder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/miladsoleymani/cloudstream/core"
	"github.com/miladsoleymani/cloudstream/expression"
)

// DefaultGroup is the consumer group of point-to-point consumers that do
// not name one.
const DefaultGroup = "default"

// Option configures a BrokerBinder.
type Option func(*BrokerBinder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *BrokerBinder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithEvaluator sets the evaluator for partition key expressions.
func WithEvaluator(e expression.Evaluator) Option {
	return func(b *BrokerBinder) { b.evaluator = e }
}

// WithMinPartitionCount sets the smallest partition count provisioned for
// producer destinations.
func WithMinPartitionCount(n int) Option {
	return func(b *BrokerBinder) { b.minPartitions = n }
}

// WithDefaultGroup overrides DefaultGroup.
func WithDefaultGroup(group string) Option {
	return func(b *BrokerBinder) {
		if group != "" {
			b.defaultGroup = group
		}
	}
}

// BrokerBinder implements core.Binder on top of a core.Broker.
//
// Point-to-point consumers share a consumer group so that they compete for
// messages. Pub/sub consumers without a group get an anonymous one and
// therefore see every message. Producers publish whatever is sent on the
// bound local channel, computing the partition header from the
// partitionKeyExpression producer property.
type BrokerBinder struct {
	name          string
	broker        core.Broker
	evaluator     expression.Evaluator
	minPartitions int
	defaultGroup  string
	logger        *slog.Logger

	mu        sync.Mutex
	consumers map[string][]*binding
	producers map[string][]*binding
}

var _ core.Binder = (*BrokerBinder)(nil)

// New creates a BrokerBinder named name over br.
func New(name string, br core.Broker, opts ...Option) *BrokerBinder {
	b := &BrokerBinder{
		name:         name,
		broker:       br,
		evaluator:    expression.New(),
		defaultGroup: DefaultGroup,
		logger:       slog.Default(),
		consumers:    make(map[string][]*binding),
		producers:    make(map[string][]*binding),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("binder", name)
	return b
}

// Name returns the binder name.
func (b *BrokerBinder) Name() string { return b.name }

// Broker returns the underlying transport.
func (b *BrokerBinder) Broker() core.Broker { return b.broker }

// BindConsumer subscribes ch to destination as a point-to-point consumer.
func (b *BrokerBinder) BindConsumer(ctx context.Context, destination string, ch core.MessageChannel, props core.Properties) (core.Binding, error) {
	return b.bindConsumer(ctx, core.Destination{Name: destination}, ch, props)
}

// BindPubSubConsumer subscribes ch to the pub/sub destination.
func (b *BrokerBinder) BindPubSubConsumer(ctx context.Context, destination string, ch core.MessageChannel, props core.Properties) (core.Binding, error) {
	return b.bindConsumer(ctx, core.Destination{Name: destination, PubSub: true}, ch, props)
}

// BindProducer publishes every message sent on ch to destination.
func (b *BrokerBinder) BindProducer(ctx context.Context, destination string, ch core.SubscribableChannel, props core.Properties) (core.Binding, error) {
	return b.bindProducer(ctx, core.Destination{Name: destination}, ch, props)
}

// BindPubSubProducer publishes every message sent on ch to the pub/sub destination.
func (b *BrokerBinder) BindPubSubProducer(ctx context.Context, destination string, ch core.SubscribableChannel, props core.Properties) (core.Binding, error) {
	return b.bindProducer(ctx, core.Destination{Name: destination, PubSub: true}, ch, props)
}

// UnbindConsumers releases the consumer bindings of channelName.
func (b *BrokerBinder) UnbindConsumers(channelName string) error {
	return b.unbindAll(b.consumers, channelName)
}

// UnbindProducers releases the producer bindings of channelName.
func (b *BrokerBinder) UnbindProducers(channelName string) error {
	return b.unbindAll(b.producers, channelName)
}

func (b *BrokerBinder) native() bool {
	np, ok := b.broker.(core.NativePartitioner)
	return ok && np.NativePartitioning()
}

func (b *BrokerBinder) provision(ctx context.Context, dst core.Destination) error {
	p, ok := b.broker.(core.Provisioner)
	if !ok {
		return nil
	}
	return p.Provision(ctx, dst)
}

func (b *BrokerBinder) bindConsumer(ctx context.Context, dst core.Destination, ch core.MessageChannel, props core.Properties) (core.Binding, error) {
	if err := validate(dst, ch); err != nil {
		return nil, err
	}

	opts := core.SubscribeOptions{
		Destination: dst,
		Group:       props.String(core.PropGroup, ""),
		Concurrency: props.Int(core.PropConcurrency, 1),
		Partition:   -1,
	}
	if opts.Group == "" {
		if dst.PubSub {
			opts.Group = "anonymous." + uuid.NewString()
			opts.Anonymous = true
		} else {
			opts.Group = b.defaultGroup
		}
	}

	partitions := core.EffectivePartitionCount(props.Int(core.PropMinPartitionCount, 0), b.minPartitions)
	native := b.native()
	if native {
		opts.Destination.PartitionCount = partitions
	}

	// A partitioned consumer instance owns every partition p with
	// p % instanceCount == instanceIndex.
	targets := []core.SubscribeOptions{opts}
	if index := props.Int(core.PropPartitionIndex, -1); index >= 0 {
		count := max(props.Int(core.PropCount, 1), 1)
		targets = targets[:0]
		for p := index; p < max(partitions, index+1); p += count {
			t := opts
			if native {
				t.Partition = p
			} else {
				t.Destination = dst.Partition(p)
			}
			targets = append(targets, t)
		}
	}

	handler := func(ctx context.Context, msg *core.Message) error {
		return ch.Send(ctx, msg)
	}
	var closers []io.Closer
	release := func() error {
		var errs []error
		for _, c := range closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	provisioned := make(map[string]bool, len(targets))
	for _, t := range targets {
		if !provisioned[t.Destination.Name] {
			if err := b.provision(ctx, t.Destination); err != nil {
				release()
				return nil, fmt.Errorf("%w: provision %s: %w", core.ErrBinderResolution, t.Destination, err)
			}
			provisioned[t.Destination.Name] = true
		}
		closer, err := b.broker.Subscribe(ctx, t, withDestination(t.Destination, handler))
		if err != nil {
			release()
			return nil, fmt.Errorf("%w: bind consumer %q to %s: %w", core.ErrBinderResolution, ch.Name(), t.Destination, err)
		}
		closers = append(closers, closer)
	}

	bnd := &binding{name: ch.Name(), dst: dst, release: release}
	b.track(b.consumers, bnd)
	b.logger.Info("bound consumer",
		"channel", ch.Name(), "destination", dst.String(), "group", opts.Group, "subscriptions", len(closers))
	return bnd, nil
}

func (b *BrokerBinder) bindProducer(ctx context.Context, dst core.Destination, ch core.SubscribableChannel, props core.Properties) (core.Binding, error) {
	if err := validate(dst, ch); err != nil {
		return nil, err
	}

	var key expression.Expression
	if src := props.String(core.PropPartitionKeyExpression, ""); src != "" {
		var err error
		if key, err = b.evaluator.Compile(src); err != nil {
			return nil, fmt.Errorf("%w: partition key of %q: %w", core.ErrConfiguration, ch.Name(), err)
		}
	}
	dst.PartitionCount = core.EffectivePartitionCount(props.Int(core.PropPartitionCount, 0), b.minPartitions)
	partitioned := key != nil || dst.PartitionCount > 1
	native := b.native()

	targets := []core.Destination{dst}
	if partitioned && !native {
		targets = targets[:0]
		for i := 0; i < dst.PartitionCount; i++ {
			targets = append(targets, dst.Partition(i))
		}
	}
	var provMu sync.Mutex
	provisioned := make(map[string]bool, len(targets))
	for _, t := range targets {
		if err := b.provision(ctx, t); err != nil {
			return nil, fmt.Errorf("%w: provision %s: %w", core.ErrBinderResolution, t, err)
		}
		provisioned[t.Name] = true
	}
	// A partition header set by the sender routes even an unpartitioned
	// producer; its suffixed destination is provisioned on first use.
	ensure := func(ctx context.Context, t core.Destination) error {
		provMu.Lock()
		defer provMu.Unlock()
		if provisioned[t.Name] {
			return nil
		}
		if err := b.provision(ctx, t); err != nil {
			return fmt.Errorf("%w: provision %s: %w", core.ErrBinderResolution, t, err)
		}
		provisioned[t.Name] = true
		return nil
	}

	publish := func(ctx context.Context, msg *core.Message) error {
		target := dst
		p, ok := core.PartitionOf(msg)
		if !ok && key != nil {
			v, err := key.Evaluate(msg, nil)
			if err != nil {
				return fmt.Errorf("partition key for %s: %w", msg.ID(), err)
			}
			p = core.SelectPartition(v, dst.PartitionCount)
			msg = msg.WithHeader(core.HeaderPartition, p)
			ok = true
		}
		if ok && !native {
			if p < 0 || p >= dst.PartitionCount {
				return fmt.Errorf("%w: partition %d of %s out of range [0, %d)",
					core.ErrMessaging, p, dst, dst.PartitionCount)
			}
			target = dst.Partition(p)
			if err := ensure(ctx, target); err != nil {
				return err
			}
		}
		msg, err := core.EncodePayload(msg)
		if err != nil {
			return err
		}
		return b.broker.Publish(ctx, target, msg)
	}

	unsubscribe := ch.Subscribe(publish)
	bnd := &binding{name: ch.Name(), dst: dst, release: func() error { unsubscribe(); return nil }}
	b.track(b.producers, bnd)
	b.logger.Info("bound producer",
		"channel", ch.Name(), "destination", dst.String(), "partitions", dst.PartitionCount)
	return bnd, nil
}

func withDestination(dst core.Destination, h core.Handler) core.Handler {
	return func(ctx context.Context, msg *core.Message) error {
		return h(core.WithDestination(ctx, dst), msg)
	}
}

func validate(dst core.Destination, ch core.MessageChannel) error {
	if strings.TrimSpace(dst.Name) == "" {
		return fmt.Errorf("%w: destination must not be blank", core.ErrConfiguration)
	}
	if ch == nil {
		return fmt.Errorf("%w: channel must not be nil", core.ErrConfiguration)
	}
	return nil
}

func (b *BrokerBinder) track(m map[string][]*binding, bnd *binding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bnd.untrack = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := m[bnd.name]
		for i, other := range list {
			if other == bnd {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(m, bnd.name)
		} else {
			m[bnd.name] = list
		}
	}
	m[bnd.name] = append(m[bnd.name], bnd)
}

func (b *BrokerBinder) unbindAll(m map[string][]*binding, channelName string) error {
	b.mu.Lock()
	list := append([]*binding(nil), m[channelName]...)
	b.mu.Unlock()

	var errs []error
	for _, bnd := range list {
		if err := bnd.Unbind(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(list) > 0 {
		b.logger.Info("unbound channel", "channel", channelName, "bindings", len(list))
	}
	return errors.Join(errs...)
}

type binding struct {
	name    string
	dst     core.Destination
	release func() error
	untrack func()
	once    sync.Once
	err     error
}

func (b *binding) Name() string { return b.name }

func (b *binding) Destination() core.Destination { return b.dst }

func (b *binding) Unbind() error {
	b.once.Do(func() {
		b.err = b.release()
		if b.untrack != nil {
			b.untrack()
		}
	})
	return b.err
}
