// Package envelope implements the canonical envelope codec and topic
// router described in spec §4.1: serialize/deserialize envelopes, map
// event_type to a bus topic, and derive child envelopes that preserve a
// causal chain's correlation_id.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

// DefaultPayloadCap is the default maximum encoded envelope size in bytes.
const DefaultPayloadCap = 256 * 1024

// Codec encodes/decodes envelopes as canonical JSON (UTF-8, sorted keys)
// and enforces a payload size cap.
type Codec struct {
	PayloadCap int
}

// NewCodec creates a Codec with the given payload cap (0 selects the default).
func NewCodec(payloadCap int) *Codec {
	if payloadCap <= 0 {
		payloadCap = DefaultPayloadCap
	}
	return &Codec{PayloadCap: payloadCap}
}

// Encode serializes an envelope to canonical JSON with lexicographically
// sorted object keys, for deterministic fingerprinting downstream.
func (c *Codec) Encode(e domain.Envelope) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope encode: %w", err)
	}
	canon, err := canonicalize(raw)
	if err != nil {
		return nil, fmt.Errorf("envelope encode: %w", err)
	}
	if len(canon) > c.PayloadCap {
		return nil, domain.ErrPayloadTooLarge
	}
	return canon, nil
}

// Decode parses bytes into an Envelope, rejecting anything missing a
// required header field or carrying a malformed event_type.
func (c *Codec) Decode(data []byte) (domain.Envelope, error) {
	var e domain.Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.Envelope{}, domain.NewValidationError("body", "", domain.ErrMalformedEnvelope)
	}
	if err := e.Validate(); err != nil {
		return domain.Envelope{}, err
	}
	return e, nil
}

// TooLargeFailure builds a payload-too-large failure envelope that is
// itself guaranteed to fit the cap — error_details is stripped/truncated
// per §4.1's edge case.
func (c *Codec) TooLargeFailure(parent domain.Envelope, errorCode string) domain.Envelope {
	msg := "payload exceeds configured cap"
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return Derive(parent, "omninode.intelligence.event.document_index_failed.v1", map[string]any{
		"error_code":    errorCode,
		"error_message": msg,
		"retry_allowed": false,
	})
}

// canonicalize re-marshals arbitrary JSON with object keys sorted.
// encoding/json sorts Go map keys but writes struct fields in declaration
// order, so this decode/re-encode step is what puts the envelope's own
// struct fields into sorted order.
func canonicalize(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
