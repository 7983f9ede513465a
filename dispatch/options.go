package dispatch

import (
	"github.com/miladsoleymani/cloudstream/core"
	"github.com/miladsoleymani/cloudstream/expression"
)

type param struct {
	name   string
	output bool
}

type options struct {
	condition     string
	conditionExpr expression.Expression
	output        string
	input         string
	params        []param
}

// Option configures a listener registration.
type Option func(*options)

// WithCondition guards an imperative listener with an expression compiled
// by the builder's evaluator. The listener runs only for messages on which
// the expression is true.
func WithCondition(src string) Option {
	return func(o *options) { o.condition = src }
}

// WithConditionFunc guards an imperative listener with a Go predicate.
func WithConditionFunc(fn func(msg *core.Message) bool) Option {
	return func(o *options) { o.conditionExpr = expression.Predicate(fn) }
}

// WithOutput names the channel that receives the listener's results.
func WithOutput(name string) Option {
	return func(o *options) { o.output = name }
}

// WithInput names the input channel of a declarative listener. It is passed
// as the only argument.
func WithInput(name string) Option {
	return func(o *options) { o.input = name }
}

// WithParamInput appends an input channel argument to a declarative
// listener.
func WithParamInput(name string) Option {
	return func(o *options) { o.params = append(o.params, param{name: name}) }
}

// WithParamOutput appends an output channel argument to a declarative
// listener.
func WithParamOutput(name string) Option {
	return func(o *options) { o.params = append(o.params, param{name: name, output: true}) }
}

func (o *options) hasCondition() bool {
	return o.condition != "" || o.conditionExpr != nil
}

func (o *options) paramOutputs() []string {
	var out []string
	for _, p := range o.params {
		if p.output {
			out = append(out, p.name)
		}
	}
	return out
}
