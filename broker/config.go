package broker

// Config holds broker-agnostic transport configuration for one binder.
// Broker plugins extract the fields they need.
type Config struct {
	// Brokers is a list of broker addresses (e.g., "localhost:9092").
	Brokers []string

	// Group is the default consumer group for point-to-point consumers.
	Group string

	// MinPartitionCount is the smallest partition count the binder
	// provisions for a destination.
	MinPartitionCount int

	// Extra holds plugin-specific configuration.
	Extra map[string]any
}

// Clone returns a deep-enough copy of c for customizers to mutate.
func (c Config) Clone() Config {
	out := c
	out.Brokers = append([]string(nil), c.Brokers...)
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ExtraString returns a string entry of Extra.
func (c Config) ExtraString(key string) (string, bool) {
	v, ok := c.Extra[key].(string)
	return v, ok
}

// ExtraInt returns an int entry of Extra. Integral values decoded from
// configuration files are accepted too.
func (c Config) ExtraInt(key string) (int, bool) {
	switch v := c.Extra[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// ExtraBool returns a bool entry of Extra.
func (c Config) ExtraBool(key string) (bool, bool) {
	v, ok := c.Extra[key].(bool)
	return v, ok
}
