package domain

import (
	"errors"
	"testing"
)

func TestValidEventType(t *testing.T) {
	cases := map[string]bool{
		"omninode.intelligence.event.document_index_completed.v1": true,
		"dev.archon_intelligence.document_index_requested.v1":     true,
		"BadCase.event.v1":                                        false,
		"missing.version":                                         false,
		"too.few.dots.v":                                          false,
		"one_segment.v1":                                          false,
	}
	for in, want := range cases {
		if got := ValidEventType(in); got != want {
			t.Errorf("ValidEventType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewEnvelopeIsIngress(t *testing.T) {
	e := NewEnvelope("omninode.intelligence.event.repository_scan_requested.v1", Source{Service: "crawler", InstanceID: "i1"}, nil)
	if e.CausationID != "" {
		t.Fatalf("expected empty causation_id at ingress, got %q", e.CausationID)
	}
	if e.EventID == "" || e.CorrelationID == "" {
		t.Fatal("expected non-empty event_id and correlation_id")
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid envelope, got %v", err)
	}
}

func TestEnvelopeValidateRejectsMalformed(t *testing.T) {
	e := NewEnvelope("not-a-valid-type", Source{}, nil)
	err := e.Validate()
	if err == nil {
		t.Fatal("expected error for bad event_type")
	}
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestEnvelopeValidateRequiresCorrelationID(t *testing.T) {
	e := NewEnvelope("omninode.intelligence.event.document_index_completed.v1", Source{}, nil)
	e.CorrelationID = ""
	if err := e.Validate(); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}
