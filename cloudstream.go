// Package cloudstream binds named application channels to broker
// destinations and dispatches inbound messages to conditional listeners.
//
//	app, err := cloudstream.NewFromConfig(cfg)
//	in, _ := app.Input("input")
//	app.Output("output")
//	app.Listen("input", dispatch.Returning(enrich),
//	    dispatch.WithCondition(`headers.type == "order"`),
//	    dispatch.WithOutput("output"))
//	err = app.Run(ctx)
package cloudstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/miladsoleymani/cloudstream/binder"
	"github.com/miladsoleymani/cloudstream/binding"
	"github.com/miladsoleymani/cloudstream/config"
	"github.com/miladsoleymani/cloudstream/core"
	"github.com/miladsoleymani/cloudstream/dispatch"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Message    = core.Message
	Headers    = core.Headers
	Handler    = core.Handler
	Middleware = core.Middleware
	Binder     = core.Binder
	Binding    = core.Binding
)

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger of the app and of the components it creates.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMiddleware wraps every listener dispatcher, outermost first.
func WithMiddleware(mws ...core.Middleware) Option {
	return func(a *App) {
		a.builderOpts = append(a.builderOpts, dispatch.WithMiddleware(mws...))
	}
}

// WithBuilderOptions passes options to the listener builder.
func WithBuilderOptions(opts ...dispatch.BuilderOption) Option {
	return func(a *App) { a.builderOpts = append(a.builderOpts, opts...) }
}

// WithDynamicDestinations binds channels without a configured binding to a
// destination named like the channel.
func WithDynamicDestinations() Option {
	return func(a *App) { a.dynamic = true }
}

// App owns the binder registry, the binding service and the listeners of
// one application. Channels and listeners are declared before Start.
type App struct {
	registry    *binder.Registry
	service     *binding.Service
	components  *core.Components
	builder     *dispatch.Builder
	builderOpts []dispatch.BuilderOption
	dynamic     bool
	logger      *slog.Logger

	mu          sync.Mutex
	inputs      []string
	outputs     []string
	dispatchers *dispatch.Dispatchers
	started     bool
	stopped     bool
}

// New creates an App resolving binders through registry.
func New(registry *binder.Registry, props binding.Properties, opts ...Option) *App {
	a := &App{
		registry:   registry,
		components: core.NewComponents(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.service = binding.NewService(registry, props, binding.WithLogger(a.logger))
	a.builder = dispatch.NewBuilder(append([]dispatch.BuilderOption{dispatch.WithLogger(a.logger)}, a.builderOpts...)...)
	return a
}

// NewFromConfig creates an App from a loaded configuration file.
func NewFromConfig(cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{logger: slog.Default()}
	for _, opt := range opts {
		opt(app)
	}
	registryOpts := append(cfg.RegistryOptions(), binder.WithRegistryLogger(app.logger))
	registry, err := binder.NewRegistry(cfg.BinderConfigurations(), registryOpts...)
	if err != nil {
		return nil, fmt.Errorf("cloudstream: %w", err)
	}
	return New(registry, cfg.BindingProperties(), opts...), nil
}

// Registry returns the binder registry.
func (a *App) Registry() *binder.Registry { return a.registry }

// Service returns the channel binding service.
func (a *App) Service() *binding.Service { return a.service }

// Components returns the component registry declarative listeners resolve
// their channels from.
func (a *App) Components() *core.Components { return a.components }

// Input declares an inbound channel. Start binds it as a consumer.
func (a *App) Input(name string) (*core.DirectChannel, error) {
	ch := core.NewDirectChannel(name)
	if err := a.declare(name, ch, &a.inputs); err != nil {
		return nil, err
	}
	return ch, nil
}

// Output declares an outbound channel. Start binds it as a producer;
// messages sent on it go to the configured destination.
func (a *App) Output(name string) (*core.DirectChannel, error) {
	ch := core.NewDirectChannel(name)
	if err := a.declare(name, ch, &a.outputs); err != nil {
		return nil, err
	}
	return ch, nil
}

func (a *App) declare(name string, ch core.MessageChannel, list *[]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return core.ErrAlreadyStarted
	}
	if err := a.components.Register(name, ch); err != nil {
		return err
	}
	*list = append(*list, name)
	return nil
}

// Listen registers an imperative listener on an input channel.
func (a *App) Listen(channel string, inv dispatch.Invoker, opts ...dispatch.Option) error {
	return a.builder.Listen(channel, inv, opts...)
}

// Declare registers a declarative listener.
func (a *App) Declare(setup dispatch.Setup, opts ...dispatch.Option) error {
	return a.builder.Declare(setup, opts...)
}

// Start binds the outputs, subscribes the listeners and then binds the
// inputs, so that no inbound message arrives before its listeners exist.
// On failure everything bound so far is released.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return core.ErrAlreadyStarted
	}
	a.started = true

	if a.dynamic {
		for _, name := range append(append([]string(nil), a.outputs...), a.inputs...) {
			a.service.Declare(name, binding.ChannelProperties{Destination: name})
		}
	}
	var resolverOpts []binding.ResolverOption
	if a.dynamic {
		resolverOpts = append(resolverOpts, binding.WithDynamicDestinations())
	}
	resolver := binding.NewChannelResolver(ctx, a.components, a.service, resolverOpts...)

	for _, name := range a.outputs {
		v, _ := a.components.Lookup(name)
		if _, err := a.service.BindProducer(ctx, v.(core.SubscribableChannel), name); err != nil {
			return a.abort(fmt.Errorf("cloudstream: bind output %q: %w", name, err))
		}
	}

	ds, err := a.builder.Build(ctx, resolver)
	if err != nil {
		return a.abort(fmt.Errorf("cloudstream: %w", err))
	}
	a.dispatchers = ds

	for _, name := range a.inputs {
		v, _ := a.components.Lookup(name)
		if _, err := a.service.BindConsumer(ctx, v.(core.MessageChannel), name); err != nil {
			return a.abort(fmt.Errorf("cloudstream: bind input %q: %w", name, err))
		}
	}

	a.logger.Info("started", "inputs", len(a.inputs), "outputs", len(a.outputs),
		"listeners", len(ds.Channels()))
	return nil
}

func (a *App) abort(err error) error {
	if stopErr := a.stop(); stopErr != nil {
		a.logger.Error("cleanup after failed start", "error", stopErr)
	}
	return err
}

// Stop unbinds every channel, unsubscribes the listeners and closes the
// brokers. It is safe to call more than once.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop()
}

func (a *App) stop() error {
	if a.stopped {
		return nil
	}
	a.stopped = true

	var errs []error
	if err := a.service.UnbindAll(); err != nil {
		errs = append(errs, err)
	}
	if a.dispatchers != nil {
		a.dispatchers.Close()
	}
	if err := a.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("stopped")
	return errors.Join(errs...)
}

// Run starts the app and blocks until ctx is cancelled, then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}
