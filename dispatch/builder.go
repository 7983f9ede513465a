// Package dispatch registers stream listeners and routes the messages of
// each input channel to the listeners whose condition matches.
//
// Listeners are registered on a Builder during startup and are validated as
// they are registered. Build turns the registrations into one Dispatcher per
// input channel.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/miladsoleymani/cloudstream/core"
	"github.com/miladsoleymani/cloudstream/expression"
)

// ChannelResolver finds the channels listeners are attached to. Lookup
// returns registered components; Resolve returns an output channel,
// creating it if needed.
type ChannelResolver interface {
	core.Registry
	Resolve(name string) (core.MessageChannel, error)
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithEvaluator sets the evaluator for condition strings.
func WithEvaluator(e expression.Evaluator) BuilderOption {
	return func(b *Builder) { b.evaluator = e }
}

// WithVars sets extra variables visible to conditions.
func WithVars(vars map[string]any) BuilderOption {
	return func(b *Builder) { b.vars = vars }
}

// WithLogger sets the logger of the builder and its dispatchers.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMiddleware wraps every dispatcher, outermost first.
func WithMiddleware(mws ...core.Middleware) BuilderOption {
	return func(b *Builder) { b.middleware = append(b.middleware, mws...) }
}

// WithParameterAdapter adds an adapter for declarative listener arguments.
func WithParameterAdapter(a ParameterAdapter) BuilderOption {
	return func(b *Builder) { b.paramAdapters = append(b.paramAdapters, a) }
}

// WithResultAdapter adds an adapter for declarative listener results. It is
// consulted before the built-in channel and stream bridges.
func WithResultAdapter(a ResultAdapter) BuilderOption {
	return func(b *Builder) { b.resultAdapters = append(b.resultAdapters, a) }
}

type mapping struct {
	invoker   Invoker
	condition expression.Expression
	output    string
}

type declaration struct {
	setup  Setup
	input  string
	params []param
	output string
}

// Builder collects listener registrations. It is used once: Build consumes
// it.
type Builder struct {
	evaluator      expression.Evaluator
	vars           map[string]any
	logger         *slog.Logger
	middleware     []core.Middleware
	paramAdapters  []ParameterAdapter
	resultAdapters []ResultAdapter

	mu           sync.Mutex
	order        []string
	mappings     map[string][]mapping
	declarations []declaration
	built        bool
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		evaluator: expression.New(),
		logger:    slog.Default(),
		mappings:  make(map[string][]mapping),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Listen registers an imperative listener on the input channel. inv is
// called for every message on channel that satisfies the listener's
// condition.
func (b *Builder) Listen(channel string, inv Invoker, opts ...Option) error {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch {
	case strings.TrimSpace(channel) == "":
		return fmt.Errorf("%w: listener input channel must not be blank", core.ErrConfiguration)
	case !inv.valid():
		return fmt.Errorf("%w: listener on %q has no function", core.ErrConfiguration, channel)
	case o.input != "":
		return fmt.Errorf("%w: listener on %q declares its input twice", core.ErrConfiguration, channel)
	case len(o.params) > 0:
		return fmt.Errorf("%w: listener on %q: parameter channels are only valid for declarative listeners",
			core.ErrConfiguration, channel)
	case inv.IsVoid() && o.output != "":
		return fmt.Errorf("%w: void listener on %q must not declare output %q", core.ErrConfiguration, channel, o.output)
	case !inv.IsVoid() && strings.TrimSpace(o.output) == "":
		return fmt.Errorf("%w: listener on %q returns a value but has no output", core.ErrConfiguration, channel)
	}

	m := mapping{invoker: inv, condition: o.conditionExpr, output: o.output}
	if o.condition != "" {
		if m.condition != nil {
			return fmt.Errorf("%w: listener on %q has two conditions", core.ErrConfiguration, channel)
		}
		expr, err := b.evaluator.Compile(o.condition)
		if err != nil {
			return fmt.Errorf("%w: listener on %q: %w", core.ErrConfiguration, channel, err)
		}
		m.condition = expr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built {
		return fmt.Errorf("%w: builder already used", core.ErrConfiguration)
	}
	if _, ok := b.mappings[channel]; !ok {
		b.order = append(b.order, channel)
	}
	b.mappings[channel] = append(b.mappings[channel], m)
	return nil
}

// Declare registers a declarative listener. Its arguments are the channels
// named by WithInput, or by WithParamInput and WithParamOutput in order.
// setup runs once during Build.
func (b *Builder) Declare(setup Setup, opts ...Option) error {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	for _, p := range o.params {
		if strings.TrimSpace(p.name) == "" {
			return fmt.Errorf("%w: declarative listener has a blank parameter channel", core.ErrConfiguration)
		}
	}
	outputs := o.paramOutputs()
	output := o.output

	switch {
	case !setup.valid():
		return fmt.Errorf("%w: declarative listener has no function", core.ErrConfiguration)
	case o.hasCondition():
		return fmt.Errorf("%w: declarative listeners do not support conditions", core.ErrConfiguration)
	case o.input != "" && len(o.params) > 0:
		return fmt.Errorf("%w: declarative listener on %q also declares parameter channels", core.ErrConfiguration, o.input)
	case o.input == "" && len(o.params) == 0:
		return fmt.Errorf("%w: declarative listener has no channels", core.ErrConfiguration)
	case setup.IsVoid() && output != "":
		return fmt.Errorf("%w: void declarative listener must not declare output %q", core.ErrConfiguration, output)
	case !setup.IsVoid() && output == "":
		if len(outputs) != 1 {
			return fmt.Errorf("%w: declarative listener returns a value and needs exactly one output, has %d",
				core.ErrConfiguration, len(outputs))
		}
		output = outputs[0]
	}

	params := o.params
	if o.input != "" {
		params = []param{{name: o.input}}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built {
		return fmt.Errorf("%w: builder already used", core.ErrConfiguration)
	}
	b.declarations = append(b.declarations, declaration{setup: setup, input: o.input, params: params, output: output})
	return nil
}

// Build subscribes one dispatcher to each input channel, then runs the
// declarative listeners. Input channels must be registered in resolver as
// core.SubscribableChannel. The builder cannot be used afterwards.
func (b *Builder) Build(ctx context.Context, resolver ChannelResolver) (*Dispatchers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built {
		return nil, fmt.Errorf("%w: builder already used", core.ErrConfiguration)
	}
	b.built = true

	ds := &Dispatchers{byChannel: make(map[string]*Dispatcher, len(b.order))}
	for _, channel := range b.order {
		if err := b.subscribe(ds, channel, resolver); err != nil {
			ds.Close()
			return nil, err
		}
	}
	for _, decl := range b.declarations {
		if err := b.invoke(ctx, decl, resolver); err != nil {
			ds.Close()
			return nil, err
		}
	}

	b.mappings = nil
	b.declarations = nil
	return ds, nil
}

func (b *Builder) subscribe(ds *Dispatchers, channel string, resolver ChannelResolver) error {
	v, ok := resolver.Lookup(channel)
	if !ok {
		return fmt.Errorf("%w: input channel %q is not registered", core.ErrConfiguration, channel)
	}
	in, ok := v.(core.SubscribableChannel)
	if !ok {
		return fmt.Errorf("%w: input %q is a %T, not a subscribable channel", core.ErrConfiguration, channel, v)
	}

	d := &Dispatcher{channel: channel, vars: b.vars, logger: b.logger}
	for _, m := range b.mappings[channel] {
		h := &conditionalHandler{invoker: m.invoker, condition: m.condition, outputName: m.output}
		if m.output != "" {
			out, err := resolver.Resolve(m.output)
			if err != nil {
				return fmt.Errorf("listener on %q: output %q: %w", channel, m.output, err)
			}
			h.output = out
		}
		d.handlers = append(d.handlers, h)
	}

	ds.order = append(ds.order, channel)
	ds.byChannel[channel] = d
	handler := core.Chain(d.Handle, b.middleware...)
	ds.unsubscribe = append(ds.unsubscribe, in.Subscribe(func(ctx context.Context, msg *core.Message) error {
		return handler(core.WithChannel(ctx, channel), msg)
	}))
	b.logger.Info("dispatcher subscribed", "channel", channel, "listeners", len(d.handlers))
	return nil
}

func (b *Builder) invoke(ctx context.Context, decl declaration, resolver ChannelResolver) error {
	args := make([]any, 0, len(decl.params))
	for _, p := range decl.params {
		target, ok := resolver.Lookup(p.name)
		if !ok && p.output {
			var err error
			if target, err = resolver.Resolve(p.name); err != nil {
				return fmt.Errorf("declarative listener: output %q: %w", p.name, err)
			}
			ok = true
		}
		if !ok {
			return fmt.Errorf("%w: declarative listener: channel %q is not registered", core.ErrConfiguration, p.name)
		}
		arg, err := b.adaptParam(ctx, target, p.output)
		if err != nil {
			return fmt.Errorf("declarative listener: channel %q: %w", p.name, err)
		}
		args = append(args, arg)
	}

	res, err := decl.setup.call(ctx, args)
	if err != nil {
		return fmt.Errorf("declarative listener: %w", err)
	}
	if res == nil || decl.output == "" {
		return nil
	}

	target, err := resolver.Resolve(decl.output)
	if err != nil {
		return fmt.Errorf("declarative listener: output %q: %w", decl.output, err)
	}
	adapters := append(append([]ResultAdapter(nil), b.resultAdapters...),
		ChannelBridge{}, StreamBridge{Logger: b.logger})
	for _, a := range adapters {
		if a.Supports(res, target) {
			return a.Adapt(ctx, res, target)
		}
	}
	return fmt.Errorf("%w: no adapter from %T to output %q", core.ErrConfiguration, res, decl.output)
}

func (b *Builder) adaptParam(ctx context.Context, target any, output bool) (any, error) {
	for _, a := range b.paramAdapters {
		if a.Supports(target, output) {
			return a.Adapt(ctx, target, output)
		}
	}
	return target, nil
}
