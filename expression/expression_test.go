package expression_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/cloudstream/core"
	"github.com/miladsoleymani/cloudstream/expression"
)

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{true, true},
		{false, false},
		{"true", true},
		{"TRUE", true},
		{"True", true},
		{" true", false},
		{"true\n", false},
		{"\tTRUE ", false},
		{"yes", false},
		{"1", false},
		{1, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expression.Truthy(tt.v), "Truthy(%#v)", tt.v)
	}
}

func TestExpr_HeaderConditions(t *testing.T) {
	e := expression.New()
	cond, err := e.Compile("headers.x == 1")
	require.NoError(t, err)

	for x, want := range map[int]bool{1: true, 2: false} {
		out, err := cond.Evaluate(core.NewMessage(nil, core.Headers{"x": x}), nil)
		require.NoError(t, err)
		assert.Equal(t, want, out, "x=%d", x)
	}

	out, err := cond.Evaluate(core.NewMessage(nil, nil), nil)
	require.NoError(t, err)
	assert.False(t, expression.Truthy(out), "missing header must not match")
}

func TestExpr_Payload(t *testing.T) {
	cond, err := expression.New().Compile(`payload.kind == "order" && payload.amount > 10`)
	require.NoError(t, err)

	out, err := cond.Evaluate(core.NewMessage(map[string]any{"kind": "order", "amount": 20}, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_Vars(t *testing.T) {
	e := &expression.Expr{Vars: map[string]any{"region": "eu"}}
	cond, err := e.Compile(`headers.region == region && headers.tier == tier`)
	require.NoError(t, err)

	msg := core.NewMessage(nil, core.Headers{"region": "eu", "tier": "gold"})
	out, err := cond.Evaluate(msg, map[string]any{"tier": "gold"})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_BooleanLiteralsAnyCase(t *testing.T) {
	e := expression.New()
	for src, want := range map[string]bool{"true": true, "TRUE": true, "True": true, "FALSE": false} {
		cond, err := e.Compile(src)
		require.NoError(t, err)
		out, err := cond.Evaluate(core.NewMessage(nil, nil), nil)
		require.NoError(t, err)
		assert.Equal(t, want, expression.Truthy(out), src)
	}
}

func TestExpr_StringResultCoercion(t *testing.T) {
	e := expression.New()
	for src, want := range map[string]bool{`"TRUE"`: true, `"true"`: true, `"nope"`: false} {
		cond, err := e.Compile(src)
		require.NoError(t, err)
		out, err := cond.Evaluate(core.NewMessage(nil, nil), nil)
		require.NoError(t, err)
		assert.Equal(t, want, expression.Truthy(out), src)
	}
}

func TestExpr_CompileErrors(t *testing.T) {
	e := expression.New()
	_, err := e.Compile("")
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = e.Compile("headers.x ==")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestPredicate(t *testing.T) {
	p := expression.Predicate(func(msg *core.Message) bool { return msg.HeaderString("k") == "v" })
	out, err := p.Evaluate(core.NewMessage(nil, core.Headers{"k": "v"}), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}
