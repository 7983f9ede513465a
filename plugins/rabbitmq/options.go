package rabbitmq

// Option configures the RabbitMQ broker.
type Option func(*options)

type options struct {
	// Exchange settings
	exchangeType   string
	exchangePrefix string

	// Queue settings
	durable    bool
	autoDelete bool

	// Consumer settings
	prefetchCount int
	requeueOnNack bool
}

func defaults() options {
	return options{
		exchangeType:  "topic", // direct, fanout, topic, headers
		durable:       true,
		prefetchCount: 10,
		requeueOnNack: true,
	}
}

// WithExchangeType sets the kind of exchange declared per destination.
func WithExchangeType(kind string) Option {
	return func(o *options) { o.exchangeType = kind }
}

// WithExchangePrefix prepends prefix to every exchange and group queue name.
func WithExchangePrefix(prefix string) Option {
	return func(o *options) { o.exchangePrefix = prefix }
}

// WithDurable controls whether exchanges and group queues survive broker
// restart.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithPrefetchCount sets how many messages are delivered before requiring ack.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithRequeueOnNack controls whether nacked messages are requeued.
func WithRequeueOnNack(requeue bool) Option {
	return func(o *options) { o.requeueOnNack = requeue }
}

// WithAutoDelete causes group queues to be deleted when the last consumer
// disconnects.
func WithAutoDelete(d bool) Option {
	return func(o *options) { o.autoDelete = d }
}
