// Package binding connects named local channels to destinations through the
// binder configured for each channel.
package binding

import "github.com/miladsoleymani/cloudstream/core"

// ChannelProperties describes the binding of one local channel.
type ChannelProperties struct {
	// Destination is the binding target. A "topic:" prefix selects pub/sub
	// semantics.
	Destination string

	// Binder names the binder configuration to use. Blank selects the
	// default binder.
	Binder string

	Consumer core.Properties
	Producer core.Properties

	// Partitioned marks a consumer that reads a single partition, selected
	// by the instance index.
	Partitioned bool

	// PartitionCount is the number of partitions of the destination.
	PartitionCount int
}

// Clone returns a copy that shares no maps with p.
func (p ChannelProperties) Clone() ChannelProperties {
	out := p
	out.Consumer = p.Consumer.Clone()
	out.Producer = p.Producer.Clone()
	return out
}

// Properties are the process-wide binding settings.
type Properties struct {
	// InstanceIndex is the index of this process among InstanceCount
	// instances consuming the same destinations.
	InstanceIndex int
	InstanceCount int

	// LegacyPartitionedFallThrough makes BindingConsumerProperties return
	// nil for partitioned channels without consumer properties.
	LegacyPartitionedFallThrough bool

	// Bindings maps local channel names to their binding.
	Bindings map[string]ChannelProperties
}

// Clone returns a deep copy of p.
func (p Properties) Clone() Properties {
	out := p
	out.Bindings = make(map[string]ChannelProperties, len(p.Bindings))
	for name, cp := range p.Bindings {
		out.Bindings[name] = cp.Clone()
	}
	return out
}

// Channel returns the binding of the named channel.
func (p Properties) Channel(name string) (ChannelProperties, bool) {
	cp, ok := p.Bindings[name]
	return cp, ok
}

// Names returns the configured channel names in no particular order.
func (p Properties) Names() []string {
	out := make([]string, 0, len(p.Bindings))
	for name := range p.Bindings {
		out = append(out, name)
	}
	return out
}
