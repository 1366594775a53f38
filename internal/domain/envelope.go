// Package domain defines the core data model of the orchestration bus and
// indexing pipeline: envelopes, indexing requests/results, embedded chunks,
// file-tree graph nodes, and the bootstrap tier table.
package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// eventTypeRegex matches dotted event type names, e.g.
// "omninode.intelligence.event.document_index_completed.v1".
var eventTypeRegex = regexp.MustCompile(`^[a-z_]+(\.[a-z_]+)+\.v\d+$`)

// ValidEventType reports whether s matches the required event_type shape.
func ValidEventType(s string) bool {
	return eventTypeRegex.MatchString(s)
}

// Source identifies the emitting service instance.
type Source struct {
	Service    string `json:"service"`
	InstanceID string `json:"instance_id"`
}

// Envelope is the uniform wrapper carried by every message on the bus.
//
// correlation_id is immutable along a causal chain; causation_id is the
// event_id of the triggering envelope, or empty only at ingress.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       string          `json:"version"`
	Source        Source          `json:"source"`
	Payload       map[string]any  `json:"payload"`
}

// EnvelopeVersion is the current envelope schema semver.
const EnvelopeVersion = "1.0.0"

// NewEnvelope constructs a fresh, ingress-originated envelope (no parent):
// causation_id is left empty and correlation_id is freshly minted.
func NewEnvelope(eventType string, source Source, payload map[string]any) Envelope {
	now := time.Now().UTC()
	id := uuid.NewString()
	return Envelope{
		EventID:       id,
		EventType:     eventType,
		CorrelationID: uuid.NewString(),
		CausationID:   "",
		Timestamp:     now,
		Version:       EnvelopeVersion,
		Source:        source,
		Payload:       payload,
	}
}

// Validate checks required header fields and the event_type shape,
// surfacing ErrMalformedEnvelope on any violation.
func (e Envelope) Validate() error {
	if e.EventID == "" {
		return NewValidationError("event_id", "", ErrMalformedEnvelope)
	}
	if e.CorrelationID == "" {
		return NewValidationError("correlation_id", "", ErrMalformedEnvelope)
	}
	if !ValidEventType(e.EventType) {
		return NewValidationError("event_type", e.EventType, ErrMalformedEnvelope)
	}
	if e.Timestamp.IsZero() {
		return NewValidationError("timestamp", "", ErrMalformedEnvelope)
	}
	return nil
}
