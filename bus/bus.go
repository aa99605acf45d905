package bus

import (
	"context"
	"errors"
	"fmt"
)

// ErrChannelNotDeclared is returned when an operation names a channel that
// was never declared via DeclareChannel (or one of the StandardChannels).
var ErrChannelNotDeclared = errors.New("bus: channel not declared")

// PublishFailed wraps a transport-level error encountered while publishing,
// mirroring graph.BusPublishFailed's shape for this package's own tests
// (the graph package constructs its own *graph.BusPublishFailed around
// whatever error Publish returns; this type is the bus-internal cause).
type PublishFailed struct {
	Channel string
	Cause   error
}

func (e *PublishFailed) Error() string {
	return fmt.Sprintf("bus: publish to %q failed: %v", e.Channel, e.Cause)
}

func (e *PublishFailed) Unwrap() error { return e.Cause }

// TypedEvent is what a subscriber receives: the envelope plus payload bytes
// already passed through the registry's schema-version tolerance check (so
// a subscriber never has to repeat that work).
type TypedEvent struct {
	Envelope EventEnvelope
	Payload  []byte
}

// Decode unmarshals the event's accepted payload into v.
func (t TypedEvent) Decode(v any) error {
	return t.Envelope.Decode(v)
}

// Subscription is returned by Subscribe: a channel of matching events and a
// Close to stop delivery and release resources (consumer group membership,
// goroutines, buffers).
type Subscription struct {
	Events <-chan TypedEvent
	Close  func() error
}

// EventBus is the contract every back-end (memory, Redis Streams, Kafka)
// satisfies identically, per spec.md §4.7 ("all back-ends honor the same
// EventBus contract; consumers do not know which back-end is in use").
type EventBus interface {
	// DeclareChannel registers a channel's configuration. Declaring an
	// already-declared channel again replaces its configuration. Publish and
	// Subscribe both require the channel to be declared first.
	DeclareChannel(cfg ChannelConfig) error

	// Publish assigns envelope fields, serializes payload via the registry,
	// writes to the transport, and appends to history on success. It records
	// no metrics itself. Returns the minted event id.
	Publish(ctx context.Context, channel, eventType, schemaVersion string, payload any, meta EventMetadata) (eventID string, err error)

	// Subscribe returns a lazy stream of envelopes on channel matching
	// filter. Envelopes that fail registry decoding never reach the
	// subscriber; they are routed to the dead-letter channel instead.
	Subscribe(ctx context.Context, channel string, filter Filter) (Subscription, error)

	// History returns up to limit most-recent envelopes on channel, newest
	// first. Channels declared without HistoryEnabled always return empty.
	History(channel string, limit int) ([]EventEnvelope, error)

	// ClearHistory empties channel's history ring.
	ClearHistory(channel string) error

	// Registry returns the schema registry backing this bus, so callers can
	// register event types and migrations before publishing.
	Registry() *Registry

	// Close releases the bus's resources (transport connections, consumer
	// goroutines) and closes every live subscription's Events channel. It
	// does not make later Publish or Subscribe calls fail on every back-end:
	// MemoryBus, for one, keeps accepting both after Close.
	Close() error
}
