package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBusOptions configures a RedisBus, following the goa-ai registry
// package's ResultStreamManagerOptions precedent of taking an
// already-constructed *redis.Client rather than a DSN (the caller owns the
// connection pool; the bus only uses it).
type RedisBusOptions struct {
	// Client is the Redis connection pool. Required.
	Client *redis.Client
	// ConsumerGroup names the consumer group every declared channel's
	// stream is read through. Defaults to "spice".
	ConsumerGroup string
	// ConsumerName identifies this process within the consumer group.
	// Defaults to a random id, so offsets survive this process restarting
	// under a fresh name only if the caller pins one explicitly.
	ConsumerName string
	// StartAtBeginning reads the full stream history ("0-0") instead of
	// only new entries ("$") the first time a channel's consumer group is
	// created. Matches spec.md §4.7's "starting position $ (new only) or
	// 0-0 (full replay)".
	StartAtBeginning bool
	// PollTimeout bounds each XREADGROUP BLOCK call, distinct from any
	// node timeout per spec.md §5. Defaults to 5s.
	PollTimeout time.Duration
}

// RedisBus is an EventBus backed by Redis Streams: one stream per channel,
// a consumer group per channel so offsets survive restarts, and a
// background poll loop per declared channel that decodes entries and hands
// them to an embedded MemoryBus for local history/fan-out/dead-letter —
// the same "local delivery" semantics the in-memory back-end uses, since
// spec.md §4.7 treats history as observability, not the durable log (the
// stream itself is that). Grounded on goa-ai's registry.ResultStreamManager
// (github.com/redis/go-redis/v9 client, XADD via a thin stream wrapper,
// TTL'd Redis-side bookkeeping).
type RedisBus struct {
	client  *redis.Client
	local   *MemoryBus
	group   string
	name    string
	startAt string
	poll    time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewRedisBus constructs a RedisBus. The returned bus does not own opts.Client;
// Close stops poll loops but leaves the client connection pool open.
func NewRedisBus(registry *Registry, opts RedisBusOptions) (*RedisBus, error) {
	if opts.Client == nil {
		return nil, errors.New("bus: redis client is required")
	}
	group := opts.ConsumerGroup
	if group == "" {
		group = "spice"
	}
	name := opts.ConsumerName
	if name == "" {
		name = uuid.NewString()
	}
	startAt := "$"
	if opts.StartAtBeginning {
		startAt = "0-0"
	}
	poll := opts.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &RedisBus{
		client:  opts.Client,
		local:   NewMemoryBus(registry),
		group:   group,
		name:    name,
		startAt: startAt,
		poll:    poll,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Registry implements EventBus.
func (b *RedisBus) Registry() *Registry { return b.local.Registry() }

// DeclareChannel implements EventBus: it declares the channel locally (for
// history/fan-out), ensures the backing stream and consumer group exist,
// and starts a poll loop reading it.
func (b *RedisBus) DeclareChannel(cfg ChannelConfig) error {
	if err := b.local.DeclareChannel(cfg); err != nil {
		return err
	}

	ctx := context.Background()
	key := RedisStreamKey(cfg.Name)
	err := b.client.XGroupCreateMkStream(ctx, key, b.group, b.startAt).Err()
	if err != nil && !errors.Is(err, redis.Nil) && !isBusyGroupErr(err) {
		return fmt.Errorf("bus: create consumer group for %q: %w", cfg.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bus: redis bus is closed")
	}
	if _, running := b.cancels[cfg.Name]; running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancels[cfg.Name] = cancel
	b.wg.Add(1)
	go b.pollLoop(loopCtx, cfg.Name, key)
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 4 && err.Error()[:4] == "BUSY"
}

// pollLoop reads cfg's stream via XREADGROUP, decoding each entry's
// envelope field and handing it to b.local.deliver, then acknowledges —
// invalid entries still advance the consumer offset and land on
// dead-letter, matching spec.md §4.7.
func (b *RedisBus) pollLoop(ctx context.Context, channel, key string) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.name,
			Streams:  []string{key, ">"},
			Count:    32,
			Block:    b.poll,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			time.Sleep(b.poll)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handleEntry(channel, key, msg)
			}
		}
	}
}

func (b *RedisBus) handleEntry(channel, key string, msg redis.XMessage) {
	raw, _ := msg.Values["envelope"].(string)
	var env EventEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		dead := EventEnvelope{
			EventID:       uuid.NewString(),
			Channel:       ChannelDeadLetter,
			EventType:     "bus.decode_failure",
			SchemaVersion: CurrentEnvelopeSchemaVersion,
			Timestamp:     time.Now(),
			Metadata: EventMetadata{
				Custom: map[string]any{"original_channel": channel, "error": err.Error(), "raw_entry_id": msg.ID},
			},
		}
		b.local.deliverDeadLetter(dead)
	} else {
		b.local.deliver(env)
	}

	ctx := context.Background()
	_ = b.client.XAck(ctx, key, b.group, msg.ID).Err()
}

// Publish implements EventBus: the full envelope (not just the payload) is
// marshaled and written to the stream so the poll loop can decode it back
// into an EventEnvelope symmetrically with Redis's consumer-facing shape.
func (b *RedisBus) Publish(ctx context.Context, channel, eventType, schemaVersion string, payload any, meta EventMetadata) (string, error) {
	b.local.mu.RLock()
	_, declared := b.local.channels[channel]
	b.local.mu.RUnlock()
	if !declared {
		return "", &PublishFailed{Channel: channel, Cause: fmt.Errorf("%w: %s", ErrChannelNotDeclared, channel)}
	}
	env, err := NewEnvelope(channel, eventType, schemaVersion, payload, meta)
	if err != nil {
		return "", &PublishFailed{Channel: channel, Cause: err}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", &PublishFailed{Channel: channel, Cause: err}
	}
	key := RedisStreamKey(channel)
	if _, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"envelope": string(raw)},
	}).Result(); err != nil {
		return "", &PublishFailed{Channel: channel, Cause: err}
	}
	return env.EventID, nil
}

// Subscribe implements EventBus by delegating to the embedded local bus:
// the poll loop is what populates it from the stream, so a subscriber here
// sees exactly what the consumer group delivered to this process.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, filter Filter) (Subscription, error) {
	return b.local.Subscribe(ctx, channel, filter)
}

// History implements EventBus.
func (b *RedisBus) History(channel string, limit int) ([]EventEnvelope, error) {
	return b.local.History(channel, limit)
}

// ClearHistory implements EventBus.
func (b *RedisBus) ClearHistory(channel string) error {
	return b.local.ClearHistory(channel)
}

// Close stops every poll loop and closes local subscriber channels. The
// underlying *redis.Client is caller-owned and is left open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, cancel := range b.cancels {
		cancel()
	}
	b.mu.Unlock()

	b.wg.Wait()
	return b.local.Close()
}

// CurrentEnvelopeSchemaVersion is stamped on synthetic envelopes this
// package manufactures itself (e.g. a decode-failure dead-letter entry that
// never had a real producer-assigned version).
const CurrentEnvelopeSchemaVersion = "1.0.0"
