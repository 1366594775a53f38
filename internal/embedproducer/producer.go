// Package embedproducer implements the embedding batch producer of §4.9:
// given a set of source files, chunk each into sentence-grouped windows,
// request embeddings under a bounded-concurrency rate limit with retry, and
// hand surviving (chunk, embedding) pairs to the context-item writer in
// batches. Grounded on the teacher's engine/ingest.go:NewEmbed batching loop
// and engine/scraper/youtube.go's token-bucket rate limiter.
package embedproducer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/omninode-ai/omniintelligence-core/internal/adapters/embedding"
	"github.com/omninode-ai/omniintelligence-core/internal/contextwriter"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

const (
	// DefaultMaxConcurrent bounds in-flight embedding requests (§4.9).
	DefaultMaxConcurrent = 5
	// DefaultInterRequestDelay caps throughput at a target ops/s.
	DefaultInterRequestDelay = 20 * time.Millisecond
	// DefaultMaxRetries is the per-request retry budget on top of the
	// embedding client's own httpclient-level retry policy.
	DefaultMaxRetries = 3
	// DefaultTimeout bounds a single embedding attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxFileBytes is the too-large skip threshold (2 MiB).
	DefaultMaxFileBytes = 2 * 1024 * 1024
	// DefaultBatchSize is the handoff batch size to the context-item writer.
	DefaultBatchSize = 25
	// DefaultChunkSize/DefaultChunkOverlap mirror the teacher's
	// engine/ingest.go sentence-chunker defaults, measured in words.
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// FileInput is one file offered to the producer for embedding.
type FileInput struct {
	SourceRef string
	Content   []byte
	CrawlScope string
}

// Counters tallies the producer's skip/failure/success outcomes (§4.9).
type Counters struct {
	ChunksEmbedded   int
	SkippedTooLarge  int
	SkippedBinary    int
	FailedEmbedding  int
}

// Deps holds the producer's collaborators.
type Deps struct {
	Embedding     *embedding.Client
	ContextWriter *contextwriter.Writer
	MaxConcurrent int
	InterRequestDelay time.Duration
	MaxRetries    int
	Timeout       time.Duration
	MaxFileBytes  int
	BatchSize     int
	ChunkSize     int
	ChunkOverlap  int
	Logger        *slog.Logger
}

// Producer is the embedding batch producer.
type Producer struct {
	deps    Deps
	log     *slog.Logger
	limiter *rate.Limiter
	sem     chan struct{}
}

// New creates a Producer bound to deps, applying §4.9's defaults for any
// zero-valued field except ChunkOverlap, which keeps zero and is defaulted
// only when negative.
func New(deps Deps) *Producer {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.MaxConcurrent <= 0 {
		deps.MaxConcurrent = DefaultMaxConcurrent
	}
	if deps.InterRequestDelay <= 0 {
		deps.InterRequestDelay = DefaultInterRequestDelay
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = DefaultMaxRetries
	}
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultTimeout
	}
	if deps.MaxFileBytes <= 0 {
		deps.MaxFileBytes = DefaultMaxFileBytes
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = DefaultChunkSize
	}
	if deps.ChunkOverlap < 0 {
		deps.ChunkOverlap = DefaultChunkOverlap
	}
	return &Producer{
		deps:    deps,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(deps.InterRequestDelay), deps.MaxConcurrent),
		sem:     make(chan struct{}, deps.MaxConcurrent),
	}
}

// ProcessFiles embeds every file's chunks and hands them to the
// context-item writer in batches, returning the aggregate counters.
func (p *Producer) ProcessFiles(ctx context.Context, files []FileInput) Counters {
	var (
		mu       sync.Mutex
		counters Counters
		pending  []domain.EmbeddedChunk
	)

	flush := func() {
		if len(pending) == 0 || p.deps.ContextWriter == nil {
			pending = pending[:0]
			return
		}
		p.deps.ContextWriter.WriteBatch(ctx, pending, contextwriter.WriteOptions{})
		pending = pending[:0]
	}

	for _, f := range files {
		if len(f.Content) > p.deps.MaxFileBytes {
			counters.SkippedTooLarge++
			continue
		}
		if !utf8.Valid(f.Content) {
			counters.SkippedBinary++
			continue
		}

		chunks := chunkContent(string(f.Content), p.deps.ChunkSize, p.deps.ChunkOverlap)
		for _, c := range chunks {
			vec, err := p.embedWithRetry(ctx, c.text)
			if err != nil {
				p.log.Warn("embedproducer: embedding failed", "source_ref", f.SourceRef, "error", err)
				counters.FailedEmbedding++
				continue
			}

			mu.Lock()
			counters.ChunksEmbedded++
			pending = append(pending, domain.EmbeddedChunk{
				Content:              c.text,
				ItemType:             "chunk",
				ContentFingerprint:   domain.ContentFingerprint(c.text),
				CharacterOffsetStart: c.start,
				CharacterOffsetEnd:   c.end,
				SourceRef:            f.SourceRef,
				CrawlScope:           f.CrawlScope,
				Embedding:            vec,
			})
			if len(pending) >= p.deps.BatchSize {
				flush()
			}
			mu.Unlock()
		}
	}

	mu.Lock()
	flush()
	mu.Unlock()

	return counters
}

// embedWithRetry requests a single embedding under the limiter/semaphore,
// retrying up to MaxRetries times with exponential back-off on failure.
func (p *Producer) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	delay := time.Second
	for attempt := 0; attempt <= p.deps.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, p.deps.Timeout)
		vec, err := p.deps.Embedding.EmbedOne(callCtx, text)
		cancel()
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// textChunk is one sentence-grouped window of source content.
type textChunk struct {
	text  string
	start int
	end   int
}

// chunkContent groups sentences into ~chunkSize-word windows with overlap,
// tracking each window's byte offsets within content. Adapted from the
// teacher's splitSentences/chunkSentences, generalised to carry positional
// offsets required by EmbeddedChunk.Position.
func chunkContent(content string, chunkSize, overlap int) []textChunk {
	sentences, offsets := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []textChunk
	start := 0
	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start
		for end < len(sentences) {
			words := wordCount(sentences[end])
			if tokens+words > chunkSize && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(sentences[end])
			tokens += words
			end++
		}

		chunks = append(chunks, textChunk{
			text:  buf.String(),
			start: offsets[start],
			end:   offsets[end-1] + len(sentences[end-1]),
		})

		overlapTokens := 0
		newStart := end
		for newStart > start && overlapTokens < overlap {
			newStart--
			overlapTokens += wordCount(sentences[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return chunks
}

// splitSentences splits text into sentences on terminal punctuation or
// newlines, returning each sentence alongside its starting byte offset in
// content.
func splitSentences(text string) ([]string, []int) {
	var sentences []string
	var offsets []int
	var current strings.Builder
	sentenceStart := 0

	for i, r := range text {
		if current.Len() == 0 {
			sentenceStart = i
		}
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
					offsets = append(offsets, sentenceStart)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
		offsets = append(offsets, sentenceStart)
	}
	return sentences, offsets
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
