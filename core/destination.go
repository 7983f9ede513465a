package core

import (
	"fmt"
	"strings"
)

// PubSubPrefix marks a binding target with publish-subscribe semantics.
const PubSubPrefix = "topic:"

// Destination identifies a physical resource on a broker.
type Destination struct {
	// Name is the topic, queue or subject name, without any prefix.
	Name string

	// PubSub is true when every consumer group receives every message.
	PubSub bool

	// PartitionCount is the number of partitions, or 0 when unpartitioned.
	PartitionCount int
}

// ParseDestination resolves a binding target. A "topic:" prefix selects
// pub/sub semantics and is stripped from the name.
func ParseDestination(target string) (Destination, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Destination{}, fmt.Errorf("%w: binding target should not be empty", ErrConfiguration)
	}
	if !strings.HasPrefix(target, PubSubPrefix) {
		return Destination{Name: target}, nil
	}
	name := strings.TrimSpace(target[len(PubSubPrefix):])
	if name == "" {
		return Destination{}, fmt.Errorf("%w: binding target %q has no destination name", ErrConfiguration, target)
	}
	return Destination{Name: name, PubSub: true}, nil
}

// Partition returns the destination addressing a single partition. It is used
// by brokers that have no partitions of their own.
func (d Destination) Partition(index int) Destination {
	return Destination{Name: fmt.Sprintf("%s-%d", d.Name, index), PubSub: d.PubSub}
}

// String returns the name, prefixed with "topic:" for pub/sub destinations.
func (d Destination) String() string {
	if d.PubSub {
		return PubSubPrefix + d.Name
	}
	return d.Name
}
