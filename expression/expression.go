// Package expression compiles the condition and partition-key expressions
// attached to listeners and producer bindings.
//
// The default Evaluator is backed by github.com/expr-lang/expr. Expressions
// see the message through the variables "headers" and "payload":
//
//	headers.type == "order" && payload.amount > 100
package expression

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/miladsoleymani/cloudstream/core"
)

// Expression is a compiled expression evaluated against a message.
type Expression interface {
	// Evaluate computes the expression value for msg. vars are extra
	// variables visible to the expression.
	Evaluate(msg *core.Message, vars map[string]any) (any, error)

	String() string
}

// Evaluator compiles expression sources once, for repeated evaluation.
type Evaluator interface {
	Compile(src string) (Expression, error)
}

// Func adapts a Go function to an Expression.
type Func func(msg *core.Message) (any, error)

// Evaluate calls f.
func (f Func) Evaluate(msg *core.Message, _ map[string]any) (any, error) { return f(msg) }

func (f Func) String() string { return "func" }

// Predicate adapts a boolean Go function to an Expression.
func Predicate(fn func(msg *core.Message) bool) Expression {
	return Func(func(msg *core.Message) (any, error) { return fn(msg), nil })
}

// Truthy coerces an expression value to a boolean: booleans are used as is,
// anything else is true only if its text is "true", ignoring case.
func Truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	default:
		return strings.EqualFold(fmt.Sprint(v), "true")
	}
}

// Expr is the default Evaluator, backed by expr-lang/expr.
type Expr struct {
	// Vars are variables available to every expression, in addition to
	// "headers" and "payload".
	Vars map[string]any
}

// New returns an Expr evaluator.
func New() *Expr { return &Expr{} }

// Compile parses src. The literals true and false are accepted in any case.
func (e *Expr) Compile(src string) (Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", core.ErrConfiguration)
	}
	switch {
	case strings.EqualFold(src, "true"):
		return constant{src: src, value: true}, nil
	case strings.EqualFold(src, "false"):
		return constant{src: src, value: false}, nil
	}
	prog, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: compile expression %q: %w", core.ErrConfiguration, src, err)
	}
	return &compiled{src: src, prog: prog, vars: e.Vars}, nil
}

type constant struct {
	src   string
	value any
}

func (c constant) Evaluate(*core.Message, map[string]any) (any, error) { return c.value, nil }

func (c constant) String() string { return c.src }

type compiled struct {
	src  string
	prog *vm.Program
	vars map[string]any
}

func (c *compiled) Evaluate(msg *core.Message, vars map[string]any) (any, error) {
	env := make(map[string]any, len(c.vars)+len(vars)+2)
	for k, v := range c.vars {
		env[k] = v
	}
	for k, v := range vars {
		env[k] = v
	}
	env["headers"] = map[string]any(msg.Headers())
	env["payload"] = msg.Payload()

	out, err := expr.Run(c.prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", c.src, err)
	}
	return out, nil
}

func (c *compiled) String() string { return c.src }
