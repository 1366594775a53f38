package embedproducer

import (
	"bytes"
	"context"
	"testing"
)

func TestSplitSentencesTracksByteOffsets(t *testing.T) {
	text := "First sentence. Second sentence! Third?"
	sentences, offsets := splitSentences(text)
	if len(sentences) != 3 {
		t.Fatalf("expected 3 sentences, got %+v", sentences)
	}
	for i, s := range sentences {
		start := offsets[i]
		if !bytes.Contains([]byte(text[start:]), []byte(s)) {
			t.Fatalf("offset %d does not point into sentence %q", start, s)
		}
	}
}

func TestChunkContentGroupsWithinWordBudget(t *testing.T) {
	text := "one two three. four five six. seven eight nine."
	chunks := chunkContent(text, 6, 0)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for a tight word budget, got %+v", chunks)
	}
	for _, c := range chunks {
		if c.start < 0 || c.end <= c.start {
			t.Fatalf("invalid chunk offsets: %+v", c)
		}
	}
}

func TestChunkContentEmptyContent(t *testing.T) {
	if chunks := chunkContent("", 512, 50); chunks != nil {
		t.Fatalf("expected nil chunks for empty content, got %+v", chunks)
	}
}

func TestWordCountCountsFields(t *testing.T) {
	if got := wordCount("the quick brown fox"); got != 4 {
		t.Fatalf("expected 4 words, got %d", got)
	}
}

func TestProcessFilesSkipsTooLargeAndBinary(t *testing.T) {
	p := New(Deps{MaxFileBytes: 10})
	files := []FileInput{
		{SourceRef: "big.txt", Content: bytes.Repeat([]byte("a"), 20)},
		{SourceRef: "bin.dat", Content: []byte{0xff, 0xfe, 0xfd, 0x00}},
	}
	counters := p.ProcessFiles(context.Background(), files)
	if counters.SkippedTooLarge != 1 {
		t.Fatalf("expected 1 too-large skip, got %+v", counters)
	}
	if counters.SkippedBinary != 1 {
		t.Fatalf("expected 1 binary skip, got %+v", counters)
	}
	if counters.ChunksEmbedded != 0 || counters.FailedEmbedding != 0 {
		t.Fatalf("expected no embedding attempts, got %+v", counters)
	}
}

func TestProcessFilesEmptyInputReturnsZeroCounters(t *testing.T) {
	p := New(Deps{})
	counters := p.ProcessFiles(context.Background(), nil)
	if counters != (Counters{}) {
		t.Fatalf("expected zero counters, got %+v", counters)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(Deps{})
	if p.deps.MaxConcurrent != DefaultMaxConcurrent {
		t.Fatalf("expected default max concurrent, got %d", p.deps.MaxConcurrent)
	}
	if p.deps.BatchSize != DefaultBatchSize {
		t.Fatalf("expected default batch size, got %d", p.deps.BatchSize)
	}
	if p.deps.MaxFileBytes != DefaultMaxFileBytes {
		t.Fatalf("expected default max file bytes, got %d", p.deps.MaxFileBytes)
	}
}
