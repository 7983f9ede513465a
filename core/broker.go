package core

import (
	"context"
	"io"
)

// SubscribeOptions describes a consumer on a broker destination.
type SubscribeOptions struct {
	Destination Destination

	// Group is the consumer group. Consumers in one group compete for
	// messages; distinct groups each receive every message.
	Group string

	// Anonymous is set for generated groups that must not outlive the
	// subscription.
	Anonymous bool

	// Concurrency is the number of delivery goroutines. Zero means one.
	Concurrency int

	// Partition restricts delivery to a single partition on brokers with
	// native partitioning. -1 means all partitions.
	Partition int
}

// Broker is the transport contract implemented by broker plugins.
type Broker interface {
	// Publish sends msg to the destination.
	Publish(ctx context.Context, dst Destination, msg *Message) error

	// Subscribe sets up a consumer and starts delivering to h in the
	// background. Setup errors are returned synchronously; closing the
	// returned io.Closer stops delivery.
	Subscribe(ctx context.Context, opts SubscribeOptions, h Handler) (io.Closer, error)

	Close() error
}

// Provisioner is implemented by brokers that create destinations ahead of
// use, such as Kafka topics with a partition count.
type Provisioner interface {
	Provision(ctx context.Context, dst Destination) error
}

// NativePartitioner is implemented by brokers that route on the partition
// header themselves. Other brokers get one destination per partition.
type NativePartitioner interface {
	NativePartitioning() bool
}
