package dispatch

import (
	"context"

	"github.com/miladsoleymani/cloudstream/core"
)

// Invoker is a listener entry point. It is either void, or returns a value
// that is routed to the listener's output channel.
type Invoker struct {
	void      func(ctx context.Context, msg *core.Message) error
	returning func(ctx context.Context, msg *core.Message) (any, error)
}

// Void wraps a listener that produces no value.
func Void(fn func(ctx context.Context, msg *core.Message) error) Invoker {
	return Invoker{void: fn}
}

// Returning wraps a listener whose non-nil result is sent to its output.
// A *core.Message result is sent as is; any other value becomes the payload
// of a new message.
func Returning(fn func(ctx context.Context, msg *core.Message) (any, error)) Invoker {
	return Invoker{returning: fn}
}

// IsVoid reports whether the listener produces no value.
func (i Invoker) IsVoid() bool { return i.returning == nil }

func (i Invoker) valid() bool { return i.void != nil || i.returning != nil }

// Setup is a declarative listener, invoked once while building with the
// components named by its parameters.
type Setup struct {
	void      func(ctx context.Context, args []any) error
	returning func(ctx context.Context, args []any) (any, error)
}

// SetupVoid wraps a declarative listener that produces no value.
func SetupVoid(fn func(ctx context.Context, args []any) error) Setup {
	return Setup{void: fn}
}

// SetupReturning wraps a declarative listener whose result is adapted onto
// its output.
func SetupReturning(fn func(ctx context.Context, args []any) (any, error)) Setup {
	return Setup{returning: fn}
}

// IsVoid reports whether the setup produces no value.
func (s Setup) IsVoid() bool { return s.returning == nil }

func (s Setup) valid() bool { return s.void != nil || s.returning != nil }

func (s Setup) call(ctx context.Context, args []any) (any, error) {
	if s.returning != nil {
		return s.returning(ctx, args)
	}
	return nil, s.void(ctx, args)
}
