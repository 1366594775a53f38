package envelope

import (
	"strings"
	"testing"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

func sampleEnvelope() domain.Envelope {
	return domain.NewEnvelope(
		"omninode.intelligence.event.document_index_requested.v1",
		domain.Source{Service: "crawler", InstanceID: "i1"},
		map[string]any{"source_path": "a.py"},
	)
}

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec(0)
	e := sampleEnvelope()
	data, err := c.Encode(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EventID != e.EventID || got.CorrelationID != e.CorrelationID {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, e)
	}
}

func TestCodecDecodeRejectsMissingFields(t *testing.T) {
	c := NewCodec(0)
	_, err := c.Decode([]byte(`{"event_type":"omninode.intelligence.event.document_index_requested.v1"}`))
	if err == nil {
		t.Fatal("expected error for envelope missing event_id/correlation_id")
	}
}

func TestCodecDecodeRejectsMalformedJSON(t *testing.T) {
	c := NewCodec(0)
	_, err := c.Decode([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestCodecEncodeRejectsOversizedPayload(t *testing.T) {
	c := NewCodec(16)
	e := sampleEnvelope()
	_, err := c.Encode(e)
	if err == nil {
		t.Fatal("expected ErrPayloadTooLarge")
	}
}

func TestCodecEncodeSortsKeys(t *testing.T) {
	c := NewCodec(0)
	e := sampleEnvelope()
	data, err := c.Encode(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// "causation_id" sorts before "correlation_id" before "event_id" — a
	// spot check that object keys come out in sorted order.
	s := string(data)
	ci := strings.Index(s, `"correlation_id"`)
	ei := strings.Index(s, `"event_id"`)
	if ci == -1 || ei == -1 || ci > ei {
		t.Fatalf("expected correlation_id before event_id in sorted JSON, got %s", s)
	}
}
