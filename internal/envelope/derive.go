package envelope

import (
	"time"

	"github.com/google/uuid"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

// Derive produces a child envelope with a fresh event_id/timestamp while
// preserving correlation_id and setting causation_id to parent.event_id —
// the sole mechanism by which a causal chain is extended (§4.1).
func Derive(parent domain.Envelope, newType string, newPayload map[string]any) domain.Envelope {
	return domain.Envelope{
		EventID:       uuid.NewString(),
		EventType:     newType,
		CorrelationID: parent.CorrelationID,
		CausationID:   parent.EventID,
		Timestamp:     time.Now().UTC(),
		Version:       domain.EnvelopeVersion,
		Source:        parent.Source,
		Payload:       newPayload,
	}
}

// DeriveFromSource is like Derive but overrides the emitting source — used
// when the deriving component differs from the envelope's original emitter
// (e.g. the indexer deriving a completion event from a crawler-originated
// request).
func DeriveFromSource(parent domain.Envelope, newType string, source domain.Source, newPayload map[string]any) domain.Envelope {
	e := Derive(parent, newType, newPayload)
	e.Source = source
	return e
}
