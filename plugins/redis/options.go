package redis

import "time"

// Option configures the Redis broker.
type Option func(*options)

type options struct {
	password     string
	db           int
	pollTimeout  time.Duration
	defaultGroup string
	headers      []string
}

func defaults() options {
	return options{
		pollTimeout:  time.Second,
		defaultGroup: "default",
	}
}

// WithPassword sets the server password.
func WithPassword(p string) Option {
	return func(o *options) { o.password = p }
}

// WithDB selects the logical database.
func WithDB(db int) Option {
	return func(o *options) { o.db = db }
}

// WithPollTimeout sets how long a consumer blocks on an empty queue before
// checking for shutdown. Redis rounds it up to whole seconds.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) { o.pollTimeout = d }
}

// WithDefaultGroup sets the queue that receives point-to-point messages
// published before any consumer group registered.
func WithDefaultGroup(group string) Option {
	return func(o *options) {
		if group != "" {
			o.defaultGroup = group
		}
	}
}

// WithHeaders adds header names embedded in every payload, on top of the
// standard ones.
func WithHeaders(names ...string) Option {
	return func(o *options) { o.headers = append(o.headers, names...) }
}
