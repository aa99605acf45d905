package bus

import (
	"context"
	"fmt"
	"sync"
)

// defaultPublishBufferSize is the bounded per-subscriber channel capacity
// for the in-memory back-end, per spec.md §4.7 ("in-memory uses a bounded
// publish buffer (default 100) with replay disabled").
const defaultPublishBufferSize = 100

// memorySubscriber is one live Subscribe call's delivery state.
type memorySubscriber struct {
	filter Filter
	ch     chan TypedEvent
	closed bool
}

// MemoryBus is an in-memory EventBus: a reactive fan-out to subscriber
// channels plus a mutex-guarded history ring per channel, grounded on
// graph/emit's BufferedEmitter (map-of-slices keyed by run, copy-out reads)
// widened to per-channel ring buffers and live subscriber fan-out.
type MemoryBus struct {
	registry *Registry

	mu          sync.RWMutex
	channels    map[string]ChannelConfig
	history     map[string][]EventEnvelope
	subscribers map[string][]*memorySubscriber
}

// NewMemoryBus constructs an empty MemoryBus backed by registry. Pass
// bus.NewRegistry() for a fresh one, or share a Registry across back-ends in
// tests that compare behavior.
func NewMemoryBus(registry *Registry) *MemoryBus {
	if registry == nil {
		registry = NewRegistry()
	}
	return &MemoryBus{
		registry:    registry,
		channels:    make(map[string]ChannelConfig),
		history:     make(map[string][]EventEnvelope),
		subscribers: make(map[string][]*memorySubscriber),
	}
}

// DeclareChannel implements EventBus.
func (b *MemoryBus) DeclareChannel(cfg ChannelConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("bus: channel config has empty name")
	}
	cfg = cfg.withDefaults()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[cfg.Name] = cfg
	return nil
}

// Registry implements EventBus.
func (b *MemoryBus) Registry() *Registry { return b.registry }

// Publish implements EventBus. The envelope is minted and handed to
// deliver regardless of whether the registry accepts it — an undecodable
// event still gets an id and still reaches the dead-letter channel, it
// simply never reaches channel's own history or subscribers (spec.md §8
// property 8).
func (b *MemoryBus) Publish(_ context.Context, channel, eventType, schemaVersion string, payload any, meta EventMetadata) (string, error) {
	b.mu.RLock()
	_, declared := b.channels[channel]
	b.mu.RUnlock()
	if !declared {
		return "", fmt.Errorf("bus: publish to %q: %w", channel, ErrChannelNotDeclared)
	}

	env, err := NewEnvelope(channel, eventType, schemaVersion, payload, meta)
	if err != nil {
		return "", &PublishFailed{Channel: channel, Cause: err}
	}
	b.deliver(env)
	return env.EventID, nil
}

// deliver routes env to its declared channel if the registry accepts its
// event type and schema version, otherwise to the dead-letter channel with
// the decode error recorded in metadata. Shared by Publish (the in-memory
// producer/consumer boundary collapses to one call) and by the Redis/Kafka
// back-ends' poll loops when they decode entries off the wire.
func (b *MemoryBus) deliver(env EventEnvelope) {
	payload, ok, err := b.registry.Accept(env)
	if !ok {
		dead := env
		dead.Channel = ChannelDeadLetter
		if dead.Metadata.Custom == nil {
			dead.Metadata.Custom = make(map[string]any, 2)
		}
		dead.Metadata.Custom["original_channel"] = env.Channel
		if err != nil {
			dead.Metadata.Custom["error"] = err.Error()
		}
		b.appendHistory(dead)
		b.fanOut(dead, dead.Payload)
		return
	}
	b.appendHistory(env)
	b.fanOut(env, payload)
}

// deliverDeadLetter appends env (already addressed to the dead-letter
// channel) straight to history/fan-out, bypassing the registry check —
// used for entries that never had a decodable envelope to begin with (a
// raw transport entry that failed to even unmarshal), so there is no
// "original event type" to re-check against the registry.
func (b *MemoryBus) deliverDeadLetter(env EventEnvelope) {
	env.Channel = ChannelDeadLetter
	b.appendHistory(env)
	b.fanOut(env, env.Payload)
}

func (b *MemoryBus) appendHistory(env EventEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cfg, ok := b.channels[env.Channel]
	if !ok || !cfg.HistoryEnabled {
		return
	}
	ring := append(b.history[env.Channel], env)
	cap := cfg.HistoryCapacity
	if cap > 0 && len(ring) > cap {
		ring = ring[len(ring)-cap:]
	}
	b.history[env.Channel] = ring
}

func (b *MemoryBus) fanOut(env EventEnvelope, payload []byte) {
	b.mu.RLock()
	subs := append([]*memorySubscriber{}, b.subscribers[env.Channel]...)
	b.mu.RUnlock()

	event := TypedEvent{Envelope: env, Payload: payload}
	for _, sub := range subs {
		if !sub.filter.Matches(env) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Bounded buffer, no backpressure in-memory: drop rather than
			// block the publisher, matching spec.md §4.7's "replay disabled".
		}
	}
}

// Subscribe implements EventBus.
func (b *MemoryBus) Subscribe(_ context.Context, channel string, filter Filter) (Subscription, error) {
	if filter == nil {
		filter = All()
	}
	b.mu.Lock()
	if _, ok := b.channels[channel]; !ok {
		b.mu.Unlock()
		return Subscription{}, fmt.Errorf("bus: subscribe to %q: %w", channel, ErrChannelNotDeclared)
	}
	sub := &memorySubscriber{filter: filter, ch: make(chan TypedEvent, defaultPublishBufferSize)}
	b.subscribers[channel] = append(b.subscribers[channel], sub)
	b.mu.Unlock()

	closeOnce := sync.Once{}
	closeFn := func() error {
		closeOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[channel]
			for i, s := range subs {
				if s == sub {
					b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			sub.closed = true
			close(sub.ch)
		})
		return nil
	}
	return Subscription{Events: sub.ch, Close: closeFn}, nil
}

// History implements EventBus.
func (b *MemoryBus) History(channel string, limit int) ([]EventEnvelope, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ring := b.history[channel]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]EventEnvelope, limit)
	// newest first
	for i := 0; i < limit; i++ {
		out[i] = ring[len(ring)-1-i]
	}
	return out, nil
}

// ClearHistory implements EventBus.
func (b *MemoryBus) ClearHistory(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, channel)
	return nil
}

// Close implements EventBus. It closes every live subscriber channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subscribers {
		for _, s := range subs {
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
		}
	}
	b.subscribers = make(map[string][]*memorySubscriber)
	return nil
}
