// Package envelope defines the typed, immutable unit of data moved through
// the pub/sub broker, along with channel naming for addressed delivery.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Scl-Ywr/confession-wall-sub003/errors"
)

// Envelope is the unit of data published to the broker.
//
// Envelope is immutable after creation - all fields are set during
// construction and cannot be modified. The ID is unique per envelope
// and generated at publish time.
type Envelope struct {
	id            string
	kind          Kind
	priority      Priority
	payload       json.RawMessage
	timestamp     time.Time
	correlationID string
}

// Option is a functional option for configuring Envelope construction.
type Option func(*Envelope)

// WithPriority sets the advisory priority (default PriorityMedium).
func WithPriority(p Priority) Option {
	return func(e *Envelope) {
		e.priority = p
	}
}

// WithCorrelation links the envelope to an enclosing conversation.
func WithCorrelation(conversationID string) Option {
	return func(e *Envelope) {
		e.correlationID = conversationID
	}
}

// WithTime sets a specific publish timestamp instead of time.Now().
// Useful for testing. Timestamps are not guaranteed monotonic per publisher.
func WithTime(ts time.Time) Option {
	return func(e *Envelope) {
		e.timestamp = ts
	}
}

// New creates an Envelope with a generated unique ID.
func New(kind Kind, payload json.RawMessage, opts ...Option) *Envelope {
	e := &Envelope{
		id:        uuid.New().String(),
		kind:      kind,
		priority:  PriorityMedium,
		payload:   payload,
		timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ID returns the unique envelope identifier.
func (e *Envelope) ID() string { return e.id }

// Kind returns the envelope kind.
func (e *Envelope) Kind() Kind { return e.kind }

// Priority returns the advisory priority.
func (e *Envelope) Priority() Priority { return e.priority }

// Payload returns the kind-specific payload bytes.
func (e *Envelope) Payload() json.RawMessage { return e.payload }

// Timestamp returns the publish time.
func (e *Envelope) Timestamp() time.Time { return e.timestamp }

// CorrelationID returns the enclosing conversation id, if any.
func (e *Envelope) CorrelationID() string { return e.correlationID }

// Validate checks the envelope for wire eligibility.
func (e *Envelope) Validate() error {
	if e.id == "" {
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Envelope", "Validate", "missing id")
	}
	if !e.kind.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Envelope", "Validate", "invalid kind")
	}
	if !e.priority.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "Envelope", "Validate", "invalid priority")
	}
	return nil
}

// wireFormat is the JSON wire representation of an Envelope.
// Public fields here keep the Envelope itself immutable.
type wireFormat struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Priority      Priority        `json:"priority"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFormat{
		ID:            e.id,
		Kind:          e.kind,
		Priority:      e.priority,
		Payload:       e.payload,
		Timestamp:     e.timestamp.UnixMilli(),
		CorrelationID: e.correlationID,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "Envelope", "UnmarshalJSON", "decode wire format")
	}

	e.id = wire.ID
	e.kind = wire.Kind
	e.priority = wire.Priority
	e.payload = wire.Payload
	e.timestamp = time.UnixMilli(wire.Timestamp)
	e.correlationID = wire.CorrelationID

	return e.Validate()
}
