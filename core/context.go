package core

import "context"

type contextKey int

const (
	channelKey contextKey = iota
	destinationKey
)

// WithChannel returns a context carrying the name of the local channel a
// message is being delivered on.
func WithChannel(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, channelKey, name)
}

// ChannelFrom returns the channel name stored by WithChannel.
func ChannelFrom(ctx context.Context) string {
	name, _ := ctx.Value(channelKey).(string)
	return name
}

// WithDestination returns a context carrying the destination a message was
// received from.
func WithDestination(ctx context.Context, dst Destination) context.Context {
	return context.WithValue(ctx, destinationKey, dst)
}

// DestinationFrom returns the destination stored by WithDestination.
func DestinationFrom(ctx context.Context) (Destination, bool) {
	dst, ok := ctx.Value(destinationKey).(Destination)
	return dst, ok
}
