package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/miladsoleymani/cloudstream/core"
)

// BinderResolver returns the binder registered under a name. Blank selects
// the default binder. *binder.Registry implements it.
type BinderResolver interface {
	Binder(name string) (core.Binder, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

type direction string

const (
	inbound  direction = "consumer"
	outbound direction = "producer"
)

type key struct {
	channel string
	dir     direction
}

type bound struct {
	binder  core.Binder
	binding core.Binding
}

// Service binds local channels to the destinations configured for them.
//
// Each (channel, direction) pair is either unbound or bound. Binding a bound
// pair fails with core.ErrAlreadyBound; unbinding an unbound pair does
// nothing.
type Service struct {
	resolver BinderResolver
	logger   *slog.Logger

	mu    sync.Mutex
	props Properties
	state map[key]bound
}

// NewService returns a Service resolving binders through resolver. props
// are copied.
func NewService(resolver BinderResolver, props Properties, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		logger:   slog.Default(),
		props:    props.Clone(),
		state:    make(map[key]bound),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Declare adds a binding for a channel that has none. It reports whether
// the binding was added.
func (s *Service) Declare(name string, cp ChannelProperties) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.props.Bindings[name]; ok {
		return false
	}
	s.props.Bindings[name] = cp.Clone()
	return true
}

// BindConsumer binds ch to the destination configured for name, delivering
// inbound messages into ch.
func (s *Service) BindConsumer(ctx context.Context, ch core.MessageChannel, name string) (core.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{name, inbound}
	if _, ok := s.state[k]; ok {
		return nil, fmt.Errorf("%w: consumer %q", core.ErrAlreadyBound, name)
	}
	dst, cp, b, err := s.prepare(name)
	if err != nil {
		return nil, err
	}
	props, err := s.consumerProperties(name)
	if err != nil {
		return nil, err
	}

	var bnd core.Binding
	if dst.PubSub {
		bnd, err = b.BindPubSubConsumer(ctx, dst.Name, ch, props)
	} else {
		bnd, err = b.BindConsumer(ctx, dst.Name, ch, props)
	}
	if err != nil {
		return nil, err
	}
	s.state[k] = bound{binder: b, binding: bnd}
	s.logger.Debug("channel bound",
		"channel", name, "direction", inbound, "destination", dst.String(), "binder", cp.Binder)
	return bnd, nil
}

// BindProducer binds ch to the destination configured for name; messages
// sent on ch are forwarded to the destination.
func (s *Service) BindProducer(ctx context.Context, ch core.SubscribableChannel, name string) (core.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{name, outbound}
	if _, ok := s.state[k]; ok {
		return nil, fmt.Errorf("%w: producer %q", core.ErrAlreadyBound, name)
	}
	dst, cp, b, err := s.prepare(name)
	if err != nil {
		return nil, err
	}
	props := cp.Producer.Clone()
	if props == nil {
		props = core.Properties{}
	}
	if _, ok := props[core.PropPartitionCount]; !ok && cp.PartitionCount > 0 {
		props.SetInt(core.PropPartitionCount, cp.PartitionCount)
	}

	var bnd core.Binding
	if dst.PubSub {
		bnd, err = b.BindPubSubProducer(ctx, dst.Name, ch, props)
	} else {
		bnd, err = b.BindProducer(ctx, dst.Name, ch, props)
	}
	if err != nil {
		return nil, err
	}
	s.state[k] = bound{binder: b, binding: bnd}
	s.logger.Debug("channel bound",
		"channel", name, "direction", outbound, "destination", dst.String(), "binder", cp.Binder)
	return bnd, nil
}

// UnbindConsumers releases the consumer binding of name.
func (s *Service) UnbindConsumers(name string) error {
	return s.unbind(key{name, inbound})
}

// UnbindProducers releases the producer binding of name.
func (s *Service) UnbindProducers(name string) error {
	return s.unbind(key{name, outbound})
}

func (s *Service) unbind(k key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[k]
	if !ok {
		return nil
	}
	delete(s.state, k)

	var err error
	if k.dir == inbound {
		err = st.binder.UnbindConsumers(k.channel)
	} else {
		err = st.binder.UnbindProducers(k.channel)
	}
	if err != nil {
		return fmt.Errorf("unbind %s %q: %w", k.dir, k.channel, err)
	}
	s.logger.Debug("channel unbound", "channel", k.channel, "direction", k.dir)
	return nil
}

// UnbindAll releases every binding, consumers first so that no message is
// produced into an unbound channel during shutdown.
func (s *Service) UnbindAll() error {
	s.mu.Lock()
	keys := make([]key, 0, len(s.state))
	for k := range s.state {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dir != keys[j].dir {
			return keys[i].dir == inbound
		}
		return keys[i].channel < keys[j].channel
	})
	var errs []error
	for _, k := range keys {
		if err := s.unbind(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bound reports whether name has an active consumer or producer binding.
func (s *Service) Bound(name string) (consumer, producer bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, consumer = s.state[key{name, inbound}]
	_, producer = s.state[key{name, outbound}]
	return consumer, producer
}

// BindingConsumerProperties returns the consumer properties used to bind
// name. For partitioned channels they are a copy augmented with the
// instance count and index and the partition count.
func (s *Service) BindingConsumerProperties(name string) (core.Properties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumerProperties(name)
}

func (s *Service) consumerProperties(name string) (core.Properties, error) {
	cp, ok := s.props.Bindings[name]
	if !ok {
		return nil, fmt.Errorf("%w: no binding for channel %q", core.ErrConfiguration, name)
	}
	if !cp.Partitioned {
		return cp.Consumer.Clone(), nil
	}
	if cp.Consumer == nil && s.props.LegacyPartitionedFallThrough {
		return nil, nil
	}

	out := cp.Consumer.Clone()
	if out == nil {
		out = core.Properties{}
	}
	out.SetInt(core.PropCount, s.props.InstanceCount)
	out.SetInt(core.PropPartitionIndex, s.props.InstanceIndex)
	out.SetInt(core.PropMinPartitionCount, cp.PartitionCount)
	out.SetInt(core.PropNextModuleCount, cp.PartitionCount)
	return out, nil
}

func (s *Service) prepare(name string) (core.Destination, ChannelProperties, core.Binder, error) {
	cp, ok := s.props.Bindings[name]
	if !ok {
		return core.Destination{}, cp, nil, fmt.Errorf("%w: no binding for channel %q", core.ErrConfiguration, name)
	}
	if strings.TrimSpace(cp.Destination) == "" {
		return core.Destination{}, cp, nil, fmt.Errorf("%w: binding target of channel %q should not be empty", core.ErrConfiguration, name)
	}
	dst, err := core.ParseDestination(cp.Destination)
	if err != nil {
		return core.Destination{}, cp, nil, fmt.Errorf("channel %q: %w", name, err)
	}
	b, err := s.resolver.Binder(cp.Binder)
	if err != nil {
		return core.Destination{}, cp, nil, fmt.Errorf("channel %q: %w", name, err)
	}
	return dst, cp, b, nil
}
