package bus

// Standard channel names, predeclared per spec.md §6. Custom channels are
// allowed; the runner and HITL coordinator only ever publish to these five.
const (
	ChannelGraphLifecycle = "spice.graph.lifecycle"
	ChannelNodeLifecycle  = "spice.node.lifecycle"
	ChannelToolCallEvents = "spice.toolcall.events"
	ChannelHitlRequests   = "spice.hitl.requests"
	ChannelDeadLetter     = "spice.deadletter"
)

// KafkaTopic returns the Kafka topic name a channel maps to, defaulting to
// the channel name itself per spec.md §6 ("defaults to topic
// spice.toolcall.events on Kafka").
func KafkaTopic(channel string) string { return channel }

// RedisStreamKey returns the Redis Streams key a channel maps to, using the
// colon-separated convention spec.md §6 names for the tool-call channel
// ("stream key spice:toolcall:events on Redis").
func RedisStreamKey(channel string) string {
	out := make([]byte, len(channel))
	for i := range channel {
		if channel[i] == '.' {
			out[i] = ':'
		} else {
			out[i] = channel[i]
		}
	}
	return string(out)
}

// ChannelConfig configures a channel's cross-cutting behavior: whether
// publishes are retained in the history ring, its capacity, and whether
// per-channel metrics are recorded.
type ChannelConfig struct {
	Name            string
	HistoryEnabled  bool
	HistoryCapacity int
	MetricsEnabled  bool
}

// defaultHistoryCapacity is used when a history-enabled channel doesn't
// specify a capacity.
const defaultHistoryCapacity = 256

// withDefaults returns a copy of c with zero-value fields replaced by
// defaults.
func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.HistoryEnabled && c.HistoryCapacity <= 0 {
		c.HistoryCapacity = defaultHistoryCapacity
	}
	return c
}

// StandardChannels returns the ChannelConfig for every predeclared channel,
// history enabled with the default capacity, for callers that want to
// declare them all on bus construction without repeating the list.
func StandardChannels() []ChannelConfig {
	names := []string{
		ChannelGraphLifecycle,
		ChannelNodeLifecycle,
		ChannelToolCallEvents,
		ChannelHitlRequests,
		ChannelDeadLetter,
	}
	configs := make([]ChannelConfig, len(names))
	for i, n := range names {
		configs[i] = ChannelConfig{Name: n, HistoryEnabled: true, HistoryCapacity: defaultHistoryCapacity, MetricsEnabled: true}
	}
	return configs
}
