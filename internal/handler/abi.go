// Package handler defines the Handler ABI (§4.2) and the registry the
// runtime host dispatches through. Handlers are stateless between
// envelopes — any per-chain state travels in the payload via
// correlation_id, never in handler fields.
package handler

import (
	"context"
	"time"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

// OutcomeKind is the three-way result a Handle call may resolve to.
type OutcomeKind string

const (
	OutcomeAck        OutcomeKind = "ack"
	OutcomeRetry      OutcomeKind = "retry"
	OutcomeDeadLetter OutcomeKind = "dead_letter"
)

// Outcome is returned by Handle and drives the runtime host's per-envelope
// state machine (§4.3).
type Outcome struct {
	Kind    OutcomeKind
	Delay   time.Duration // meaningful only for OutcomeRetry
	Reason  string        // meaningful only for OutcomeDeadLetter
	Outgoing []domain.Envelope
}

// Ack builds an OutcomeAck carrying the envelopes to publish downstream.
func Ack(outgoing ...domain.Envelope) Outcome {
	return Outcome{Kind: OutcomeAck, Outgoing: outgoing}
}

// Retry builds an OutcomeRetry with the given redelivery delay.
func Retry(delay time.Duration) Outcome {
	return Outcome{Kind: OutcomeRetry, Delay: delay}
}

// DeadLetter builds an OutcomeDeadLetter with a human-readable reason.
func DeadLetter(reason string, outgoing ...domain.Envelope) Outcome {
	return Outcome{Kind: OutcomeDeadLetter, Reason: reason, Outgoing: outgoing}
}

// MetricsSnapshot is the shape returned by GetMetrics — a handler's own
// counters, exported without requiring the runtime host to know its
// internals.
type MetricsSnapshot struct {
	Invocations int64
	Failures    int64
	LastLatency time.Duration
}

// Handler is the contract every L3 domain component implements to be
// bound to a topic by the runtime host.
type Handler interface {
	// Name identifies the handler for logging, metrics, and circuit
	// breaker scoping.
	Name() string
	// CanHandle reports whether this handler accepts the given event_type.
	CanHandle(eventType string) bool
	// Handle processes env and returns a terminal Outcome. Implementations
	// MUST respect ctx cancellation/deadline — handle MUST NOT block
	// indefinitely (§4.2).
	Handle(ctx context.Context, env domain.Envelope) Outcome
	// GetMetrics returns a point-in-time snapshot of this handler's counters.
	GetMetrics() MetricsSnapshot
}
