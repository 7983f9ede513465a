package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/miladsoleymani/cloudstream/core"
)

// Recovery returns middleware that recovers from panics in handlers,
// logs the stack trace, and returns the panic as an error wrapping
// core.ErrMessaging.
func Recovery(logger *slog.Logger) core.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, msg *core.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					logger.ErrorContext(ctx, "panic recovered",
						"channel", core.ChannelFrom(ctx), "id", msg.ID(), "panic", r, "stack", string(buf[:n]))
					err = fmt.Errorf("%w: panic recovered: %v", core.ErrMessaging, r)
				}
			}()
			return next(ctx, msg)
		}
	}
}
