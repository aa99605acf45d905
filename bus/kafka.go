package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaBusOptions configures a KafkaBus. There is no complete teacher or
// pack repo using segmentio/kafka-go (see DESIGN.md); the shape below
// follows the library's own documented Writer/Reader conventions, kept as
// close as possible to RedisBusOptions so the two back-ends read the same.
type KafkaBusOptions struct {
	// Brokers lists the seed broker addresses. Required.
	Brokers []string
	// ConsumerGroup is the stable group id so offsets survive restarts,
	// per spec.md §4.7 ("consumer group with stable id (default = client
	// id)"). Defaults to "spice".
	ConsumerGroup string
	// MinBytes/MaxBytes bound each Reader fetch; zero uses kafka-go's
	// defaults.
	MinBytes, MaxBytes int
	// PollTimeout bounds each Reader.FetchMessage call. Defaults to 5s.
	PollTimeout time.Duration
}

// KafkaBus is an EventBus backed by Kafka: one topic per channel, an
// idempotent-acks producer (RequiredAcks: RequireAll) keyed by tool-call id
// for partition affinity, and a consumer group with a stable id so offsets
// survive restarts. Like RedisBus, local history/fan-out/dead-letter is
// delegated to an embedded MemoryBus — Kafka is the durable log, the ring
// buffer is only the observability convenience spec.md §4.7 describes.
type KafkaBus struct {
	brokers []string
	group   string
	local   *MemoryBus
	minB    int
	maxB    int
	poll    time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers map[string]*kafka.Reader
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewKafkaBus constructs a KafkaBus.
func NewKafkaBus(registry *Registry, opts KafkaBusOptions) (*KafkaBus, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("bus: at least one kafka broker is required")
	}
	group := opts.ConsumerGroup
	if group == "" {
		group = "spice"
	}
	poll := opts.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &KafkaBus{
		brokers: opts.Brokers,
		group:   group,
		local:   NewMemoryBus(registry),
		minB:    opts.MinBytes,
		maxB:    opts.MaxBytes,
		poll:    poll,
		writers: make(map[string]*kafka.Writer),
		readers: make(map[string]*kafka.Reader),
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Registry implements EventBus.
func (b *KafkaBus) Registry() *Registry { return b.local.Registry() }

// DeclareChannel implements EventBus: it declares the channel locally,
// opens a topic-scoped writer and a consumer-group reader, and starts a
// poll loop.
func (b *KafkaBus) DeclareChannel(cfg ChannelConfig) error {
	if err := b.local.DeclareChannel(cfg); err != nil {
		return err
	}

	topic := KafkaTopic(cfg.Name)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bus: kafka bus is closed")
	}
	if _, running := b.cancels[cfg.Name]; running {
		return nil
	}

	b.writers[cfg.Name] = &kafka.Writer{
		Addr:         kafka.TCP(b.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	b.readers[cfg.Name] = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		GroupID:  b.group,
		Topic:    topic,
		MinBytes: b.minB,
		MaxBytes: b.maxB,
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancels[cfg.Name] = cancel
	b.wg.Add(1)
	go b.pollLoop(loopCtx, cfg.Name)
	return nil
}

// pollLoop mirrors RedisBus's: fetch, decode, deliver locally, commit —
// mirroring the Streams loop per spec.md §4.7 ("poll loop mirrors the
// Streams loop").
func (b *KafkaBus) pollLoop(ctx context.Context, channel string) {
	defer b.wg.Done()
	b.mu.Lock()
	reader := b.readers[channel]
	b.mu.Unlock()

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, b.poll)
		msg, err := reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			continue
		}

		var env EventEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			dead := EventEnvelope{
				EventID:       uuid.NewString(),
				Channel:       ChannelDeadLetter,
				EventType:     "bus.decode_failure",
				SchemaVersion: CurrentEnvelopeSchemaVersion,
				Timestamp:     time.Now(),
				Metadata: EventMetadata{
					Custom: map[string]any{
						"original_channel": channel,
						"error":            err.Error(),
						"partition":        msg.Partition,
						"offset":           msg.Offset,
					},
				},
			}
			b.local.deliverDeadLetter(dead)
		} else {
			b.local.deliver(env)
		}

		_ = reader.CommitMessages(context.Background(), msg)
	}
}

// Publish implements EventBus: key = tool-call id when the payload carries
// one (callers publishing ToolCallEmitted/Completed pass it through
// meta.Custom["tool_call_id"]), for ordered delivery of one tool call's
// events per spec.md §5; otherwise the event id is the key.
func (b *KafkaBus) Publish(ctx context.Context, channel, eventType, schemaVersion string, payload any, meta EventMetadata) (string, error) {
	env, err := NewEnvelope(channel, eventType, schemaVersion, payload, meta)
	if err != nil {
		return "", &PublishFailed{Channel: channel, Cause: err}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", &PublishFailed{Channel: channel, Cause: err}
	}

	key := env.EventID
	if tc, ok := meta.Custom["tool_call_id"].(string); ok && tc != "" {
		key = tc
	}

	b.mu.Lock()
	writer, ok := b.writers[channel]
	b.mu.Unlock()
	if !ok {
		return "", &PublishFailed{Channel: channel, Cause: fmt.Errorf("%w: %s", ErrChannelNotDeclared, channel)}
	}

	if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: raw}); err != nil {
		return "", &PublishFailed{Channel: channel, Cause: err}
	}
	return env.EventID, nil
}

// Subscribe implements EventBus by delegating to the embedded local bus.
func (b *KafkaBus) Subscribe(ctx context.Context, channel string, filter Filter) (Subscription, error) {
	return b.local.Subscribe(ctx, channel, filter)
}

// History implements EventBus.
func (b *KafkaBus) History(channel string, limit int) ([]EventEnvelope, error) {
	return b.local.History(channel, limit)
}

// ClearHistory implements EventBus.
func (b *KafkaBus) ClearHistory(channel string) error {
	return b.local.ClearHistory(channel)
}

// Close stops every poll loop, closes writers/readers, and closes local
// subscriber channels.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, cancel := range b.cancels {
		cancel()
	}
	writers := b.writers
	readers := b.readers
	b.mu.Unlock()

	b.wg.Wait()

	var firstErr error
	for _, w := range writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
