package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/miladsoleymani/cloudstream/core"
)

// Logging returns middleware that logs message processing duration and errors.
// A nil logger uses slog.Default().
func Logging(logger *slog.Logger) core.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, msg *core.Message) error {
			start := time.Now()
			err := next(ctx, msg)
			attrs := []any{
				"channel", core.ChannelFrom(ctx),
				"id", msg.ID(),
				"elapsed", time.Since(start),
			}
			if dst, ok := core.DestinationFrom(ctx); ok {
				attrs = append(attrs, "destination", dst.String())
			}

			if err != nil {
				logger.ErrorContext(ctx, "message failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "message handled", attrs...)
			}
			return err
		}
	}
}
