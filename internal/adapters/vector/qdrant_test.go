package vector

import (
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
)

func TestToPayloadConvertsPrimitiveTypes(t *testing.T) {
	p := toPayload(map[string]any{
		"content": "hello",
		"count":   3,
		"score":   1.5,
		"ok":      true,
	})
	if p["content"].GetStringValue() != "hello" {
		t.Fatalf("expected string value preserved, got %+v", p["content"])
	}
	if p["count"].GetIntegerValue() != 3 {
		t.Fatalf("expected integer value preserved, got %+v", p["count"])
	}
	if p["score"].GetDoubleValue() != 1.5 {
		t.Fatalf("expected double value preserved, got %+v", p["score"])
	}
	if !p["ok"].GetBoolValue() {
		t.Fatalf("expected bool value preserved, got %+v", p["ok"])
	}
}

func TestFillFromPayloadSplitsKnownAndMetaFields(t *testing.T) {
	payload := map[string]*pb.Value{
		"content":  {Kind: &pb.Value_StringValue{StringValue: "chunk text"}},
		"doc_id":   {Kind: &pb.Value_StringValue{StringValue: "doc-1"}},
		"source":   {Kind: &pb.Value_StringValue{StringValue: "src.go"}},
		"language": {Kind: &pb.Value_StringValue{StringValue: "go"}},
	}
	sr := SearchResult{Meta: map[string]string{}}
	fillFromPayload(&sr, payload)

	if sr.Content != "chunk text" || sr.DocID != "doc-1" || sr.Source != "src.go" {
		t.Fatalf("unexpected known-field extraction: %+v", sr)
	}
	if sr.Meta["language"] != "go" {
		t.Fatalf("expected language to land in Meta, got %+v", sr.Meta)
	}
}

func TestFieldMatchBuildsKeywordCondition(t *testing.T) {
	cond := fieldMatch("project_id", "proj-1")
	field := cond.GetField()
	if field == nil || field.Key != "project_id" {
		t.Fatalf("expected field condition on project_id, got %+v", cond)
	}
	if field.GetMatch().GetKeyword() != "proj-1" {
		t.Fatalf("expected keyword match proj-1, got %+v", field.GetMatch())
	}
}
