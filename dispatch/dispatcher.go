package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miladsoleymani/cloudstream/core"
	"github.com/miladsoleymani/cloudstream/expression"
)

type conditionalHandler struct {
	invoker    Invoker
	condition  expression.Expression
	output     core.MessageChannel
	outputName string
}

func (h *conditionalHandler) matches(msg *core.Message, vars map[string]any) (bool, error) {
	if h.condition == nil {
		return true, nil
	}
	v, err := h.condition.Evaluate(msg, vars)
	if err != nil {
		return false, err
	}
	return expression.Truthy(v), nil
}

func (h *conditionalHandler) handle(ctx context.Context, msg *core.Message) error {
	if h.invoker.IsVoid() {
		return h.invoker.void(ctx, msg)
	}
	res, err := h.invoker.returning(ctx, msg)
	if err != nil || res == nil {
		return err
	}
	reply, ok := res.(*core.Message)
	if !ok {
		reply = core.NewMessage(res, nil)
	}
	if err := h.output.Send(ctx, reply); err != nil {
		return fmt.Errorf("send result to %q: %w", h.outputName, err)
	}
	return nil
}

// Dispatcher delivers the messages of one input channel to the listeners
// whose condition matches. Its handler set is fixed at construction, so
// Handle is safe for concurrent use.
type Dispatcher struct {
	channel  string
	handlers []*conditionalHandler
	vars     map[string]any
	logger   *slog.Logger
}

// Channel returns the input channel name.
func (d *Dispatcher) Channel() string { return d.channel }

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int { return len(d.handlers) }

// Handle dispatches msg. When no listener matches the message is dropped.
// When several match they must all be void, otherwise core.ErrMessaging is
// returned before any of them runs. Matching listeners run in registration
// order and the first error stops the rest.
func (d *Dispatcher) Handle(ctx context.Context, msg *core.Message) error {
	matched := make([]*conditionalHandler, 0, len(d.handlers))
	for _, h := range d.handlers {
		ok, err := h.matches(msg, d.vars)
		if err != nil {
			return fmt.Errorf("%w: condition %s on %q: %w", core.ErrMessaging, h.condition, d.channel, err)
		}
		if ok {
			matched = append(matched, h)
		}
	}

	switch len(matched) {
	case 0:
		d.logger.Warn("no listener matches message", "channel", d.channel, "message", msg.ID())
		return nil
	case 1:
		return matched[0].handle(ctx, msg)
	}

	for _, h := range matched {
		if !h.invoker.IsVoid() {
			return fmt.Errorf("%w: %d listeners on %q match %s and one returns a value",
				core.ErrMessaging, len(matched), d.channel, msg.ID())
		}
	}
	for _, h := range matched {
		if err := h.handle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Dispatchers is the set of dispatchers produced by Builder.Build, one per
// input channel.
type Dispatchers struct {
	order       []string
	byChannel   map[string]*Dispatcher
	unsubscribe []func()
}

// Channels returns the input channel names in registration order.
func (d *Dispatchers) Channels() []string {
	return append([]string(nil), d.order...)
}

// Get returns the dispatcher of an input channel.
func (d *Dispatchers) Get(channel string) (*Dispatcher, bool) {
	dp, ok := d.byChannel[channel]
	return dp, ok
}

// Close unsubscribes every dispatcher from its input channel.
func (d *Dispatchers) Close() {
	for _, fn := range d.unsubscribe {
		fn()
	}
	d.unsubscribe = nil
}
