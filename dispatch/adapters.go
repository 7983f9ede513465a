package dispatch

import (
	"context"
	"log/slog"

	"github.com/miladsoleymani/cloudstream/core"
)

// ParameterAdapter converts a resolved channel into the argument a
// declarative listener expects.
type ParameterAdapter interface {
	Supports(target any, output bool) bool
	Adapt(ctx context.Context, target any, output bool) (any, error)
}

// ResultAdapter connects the result of a declarative listener to its
// output channel.
type ResultAdapter interface {
	Supports(result, target any) bool
	Adapt(ctx context.Context, result, target any) error
}

// StreamAdapter passes input channels as <-chan *core.Message and output
// channels as chan<- *core.Message.
//
// Input streams are unbuffered, so delivery blocks until the listener
// receives. Output streams are drained by a goroutine that stops when the
// build context is done or the stream is closed.
type StreamAdapter struct {
	Logger *slog.Logger
}

// Supports reports whether target is a subscribable input or a message
// channel output.
func (StreamAdapter) Supports(target any, output bool) bool {
	if output {
		_, ok := target.(core.MessageChannel)
		return ok
	}
	_, ok := target.(core.SubscribableChannel)
	return ok
}

// Adapt returns the stream view of target.
func (a StreamAdapter) Adapt(ctx context.Context, target any, output bool) (any, error) {
	if !output {
		return subscribeStream(ctx, target.(core.SubscribableChannel)), nil
	}
	out := make(chan *core.Message)
	go forward(ctx, out, target.(core.MessageChannel), a.Logger)
	return (chan<- *core.Message)(out), nil
}

func subscribeStream(ctx context.Context, sc core.SubscribableChannel) <-chan *core.Message {
	in := make(chan *core.Message)
	unsubscribe := sc.Subscribe(func(hctx context.Context, msg *core.Message) error {
		select {
		case in <- msg:
			return nil
		case <-hctx.Done():
			return hctx.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	context.AfterFunc(ctx, unsubscribe)
	return in
}

func forward(ctx context.Context, src <-chan *core.Message, dst core.MessageChannel, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-src:
			if !ok {
				return
			}
			if err := dst.Send(ctx, msg); err != nil {
				logger.Error("forward to output failed", "channel", dst.Name(), "message", msg.ID(), "error", err)
			}
		}
	}
}

// ChannelBridge forwards everything sent on a result channel to the output.
type ChannelBridge struct{}

// Supports reports whether result and target are both message channels.
func (ChannelBridge) Supports(result, target any) bool {
	_, rok := result.(core.SubscribableChannel)
	_, tok := target.(core.MessageChannel)
	return rok && tok
}

// Adapt subscribes target to result.
func (ChannelBridge) Adapt(ctx context.Context, result, target any) error {
	out := target.(core.MessageChannel)
	unsubscribe := result.(core.SubscribableChannel).Subscribe(out.Send)
	context.AfterFunc(ctx, unsubscribe)
	return nil
}

// StreamBridge forwards a result stream to the output.
type StreamBridge struct {
	Logger *slog.Logger
}

// Supports reports whether result is a message stream and target a channel.
func (StreamBridge) Supports(result, target any) bool {
	_, tok := target.(core.MessageChannel)
	switch result.(type) {
	case <-chan *core.Message, chan *core.Message:
		return tok
	}
	return false
}

// Adapt starts forwarding result to target until ctx is done.
func (b StreamBridge) Adapt(ctx context.Context, result, target any) error {
	var src <-chan *core.Message
	switch r := result.(type) {
	case <-chan *core.Message:
		src = r
	case chan *core.Message:
		src = r
	}
	go forward(ctx, src, target.(core.MessageChannel), b.Logger)
	return nil
}
