package binding

import (
	"context"
	"fmt"
	"strings"

	"github.com/miladsoleymani/cloudstream/core"
)

// ChannelResolver resolves output channels by name. Names that are not yet
// registered get a new DirectChannel, bound as a producer before it is
// registered, so that results routed to it reach the broker.
type ChannelResolver struct {
	ctx        context.Context
	components *core.Components
	service    *Service
	dynamic    bool
}

// ResolverOption configures a ChannelResolver.
type ResolverOption func(*ChannelResolver)

// WithDynamicDestinations binds channels that have no configured binding
// to a destination of the same name.
func WithDynamicDestinations() ResolverOption {
	return func(r *ChannelResolver) { r.dynamic = true }
}

// NewChannelResolver returns a resolver over components. ctx is used for the
// producer bindings it creates.
func NewChannelResolver(ctx context.Context, components *core.Components, service *Service, opts ...ResolverOption) *ChannelResolver {
	r := &ChannelResolver{ctx: ctx, components: components, service: service}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup implements core.Registry.
func (r *ChannelResolver) Lookup(name string) (any, bool) {
	return r.components.Lookup(name)
}

// Resolve returns the channel registered as name, creating and binding it
// when absent.
func (r *ChannelResolver) Resolve(name string) (core.MessageChannel, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: channel name must not be blank", core.ErrConfiguration)
	}
	v, err := r.components.LookupOrRegister(name, func() (any, error) {
		if r.dynamic {
			r.service.Declare(name, ChannelProperties{Destination: name})
		}
		ch := core.NewDirectChannel(name)
		if _, err := r.service.BindProducer(r.ctx, ch, name); err != nil {
			return nil, err
		}
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	ch, ok := v.(core.MessageChannel)
	if !ok {
		return nil, fmt.Errorf("%w: component %q is a %T, not a message channel", core.ErrConfiguration, name, v)
	}
	return ch, nil
}
