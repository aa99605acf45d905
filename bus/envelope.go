// Package bus implements the typed event bus spec.md §4.7 describes: a
// semantically-versioned envelope, a schema registry, a filter algebra, and
// three back-ends (in-memory, Redis Streams, Kafka) sharing one EventBus
// contract. It is grounded on the shape of graph/emit's Emitter interface —
// publish/subscribe instead of emit, a history ring instead of a buffered
// slice — but is a distinct, larger component: emit is process-local
// diagnostics, bus is durable and cross-process.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// semverPattern enforces the envelope invariant from spec.md §3:
// schemaVersion matches \d+\.\d+\.\d+.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ErrInvalidEnvelope is returned when an envelope fails its own invariants
// (empty channel/eventType, malformed schemaVersion) before it is ever
// handed to a back-end.
var ErrInvalidEnvelope = errors.New("bus: invalid envelope")

// EventMetadata is the canonical transport for authentication, tracing, and
// graph context across process boundaries (spec.md §3). Custom carries
// anything the above named fields don't. CorrelationID/CausationID are
// copied onto the envelope itself by NewEnvelope (spec.md §3 places them on
// EventEnvelope, not Metadata) so the CorrelationID subscription filter
// (filter.go) has something to match against.
type EventMetadata struct {
	Source        string
	UserID        string
	TenantID      string
	TraceID       string
	SpanID        string
	Priority      int
	TTL           time.Duration
	CorrelationID string
	CausationID   string
	Custom        map[string]any
}

// EventEnvelope is the only cross-process wire format the bus ever moves;
// payloads are opaque JSON to the core, named by EventType and validated
// against SchemaVersion by the registry.
type EventEnvelope struct {
	EventID       string
	Channel       string
	EventType     string
	SchemaVersion string
	Payload       json.RawMessage
	Metadata      EventMetadata
	Timestamp     time.Time
	CorrelationID string
	CausationID   string
}

// NewEnvelope builds an envelope around payload (marshaled to JSON), minting
// a fresh EventID and stamping Timestamp. It does not validate schema
// compatibility — callers run that through a Registry before publishing.
func NewEnvelope(channel, eventType, schemaVersion string, payload any, meta EventMetadata) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("bus: encode payload: %w", err)
	}
	env := EventEnvelope{
		EventID:       uuid.NewString(),
		Channel:       channel,
		EventType:     eventType,
		SchemaVersion: schemaVersion,
		Payload:       raw,
		Metadata:      meta,
		Timestamp:     time.Now(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
	}
	if err := env.Validate(); err != nil {
		return EventEnvelope{}, err
	}
	return env, nil
}

// Validate checks the envelope invariants from spec.md §3.
func (e EventEnvelope) Validate() error {
	if e.Channel == "" {
		return fmt.Errorf("%w: channel name is empty", ErrInvalidEnvelope)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: event type is empty", ErrInvalidEnvelope)
	}
	if !semverPattern.MatchString(e.SchemaVersion) {
		return fmt.Errorf("%w: schema version %q is not MAJOR.MINOR.PATCH", ErrInvalidEnvelope, e.SchemaVersion)
	}
	return nil
}

// Decode unmarshals the envelope's payload into v.
func (e EventEnvelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("bus: decode payload: %w", err)
	}
	return nil
}
