package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/cloudstream/core"
)

// MetricsCollector receives one observation per handled message.
type MetricsCollector interface {
	// MessageProcessed records a message handled on channel. destination
	// is the broker destination it came from, or "" for messages sent
	// locally. err is nil on success.
	MessageProcessed(channel, destination string, duration time.Duration, err error)
}

// Metrics returns middleware that reports every handled message to collector.
func Metrics(collector MetricsCollector) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, msg *core.Message) error {
			start := time.Now()
			err := next(ctx, msg)
			var destination string
			if dst, ok := core.DestinationFrom(ctx); ok {
				destination = dst.String()
			}
			collector.MessageProcessed(core.ChannelFrom(ctx), destination, time.Since(start), err)
			return err
		}
	}
}
