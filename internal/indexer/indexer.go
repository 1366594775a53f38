// Package indexer implements the document indexer orchestrator of §4.7: on
// DOCUMENT_INDEX_REQUESTED, fan out to entity extraction, embedding
// generation, knowledge-graph upsert, and quality assessment, each wrapped in
// its own circuit breaker (there is no separate metadata-stamping
// sub-service), then emit DOCUMENT_INDEX_COMPLETED or
// DOCUMENT_INDEX_FAILED. Grounded on the teacher's engine/ingest.go pipeline
// (NewPipeline's staged composition, per-stage logging) generalised from a
// fixed Validate→Parse→Chunk→Embed→Store chain into a parallel fan-out with
// graceful degradation for non-critical sub-services.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omninode-ai/omniintelligence-core/internal/contextwriter"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/envelope"
	"github.com/omninode-ai/omniintelligence-core/internal/handler"
	"github.com/omninode-ai/omniintelligence-core/pkg/fn"
	"github.com/omninode-ai/omniintelligence-core/pkg/resilience"
)

const (
	// DefaultChunkSize/DefaultChunkOverlap mirror the teacher's ingest
	// package defaults, applied when IndexingOptions omits them.
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50

	serviceEmbedding = "embedding"
	serviceGraph     = "graph"
	serviceEntities  = "entities"
	serviceQuality   = "quality"
)

// embeddingClient is the slice of *embedding.Client the indexer needs;
// narrowed to an interface so tests can substitute a fake.
type embeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// graphStore is the slice of *graph.Store the indexer needs.
type graphStore interface {
	UpsertFile(ctx context.Context, f domain.File) error
	UpsertEntity(ctx context.Context, id string, e domain.Entity) error
	Defines(ctx context.Context, filePath, entityID string) error
}

// QualityAssessor is an injected collaborator that scores a document's
// quality; the core transports quality_score/onex_compliance but never
// computes them itself.
type QualityAssessor interface {
	AssessQuality(ctx context.Context, sourcePath, language, content string) (score float64, onexCompliant bool, err error)
}

// Deps holds the indexer's collaborators.
type Deps struct {
	Embedding          embeddingClient
	Graph              graphStore
	ContextWriter      *contextwriter.Writer
	Quality            QualityAssessor
	MaxConcurrentDocs  int
	Logger             *slog.Logger
}

// Indexer is the document indexer orchestrator handler.
type Indexer struct {
	deps     Deps
	log      *slog.Logger
	sem      chan struct{}
	breakers map[string]*resilience.Breaker

	invocations int64
	failures    int64
}

// New creates an Indexer bound to deps.
func New(deps Deps) *Indexer {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	maxConcurrent := deps.MaxConcurrentDocs
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	breakerOpts := resilience.DefaultBreakerOpts
	breakerOpts.Timeout = 60 * time.Second
	return &Indexer{
		deps: deps,
		log:  log,
		sem:  make(chan struct{}, maxConcurrent),
		breakers: map[string]*resilience.Breaker{
			serviceEmbedding: resilience.NewBreaker(breakerOpts),
			serviceGraph:     resilience.NewBreaker(breakerOpts),
			serviceEntities:  resilience.NewBreaker(breakerOpts),
			serviceQuality:   resilience.NewBreaker(breakerOpts),
		},
	}
}

var _ handler.Handler = (*Indexer)(nil)

func (ix *Indexer) Name() string { return "document_indexer" }

func (ix *Indexer) CanHandle(eventType string) bool {
	return eventType == domain.EventDocumentIndexRequested
}

func (ix *Indexer) GetMetrics() handler.MetricsSnapshot {
	return handler.MetricsSnapshot{Invocations: ix.invocations, Failures: ix.failures}
}

// subResult is one fan-out sub-service's outcome.
type subResult struct {
	name     string
	critical bool
	err      error
	millis   int64

	// entityIDs/relationships are set by runEntityExtraction.
	entityIDs     []string
	relationships int

	// qualityScore/onexCompliance are set by runQuality when a Quality
	// collaborator is configured.
	qualityScore   *float64
	onexCompliance *bool
}

func (ix *Indexer) Handle(ctx context.Context, env domain.Envelope) handler.Outcome {
	start := time.Now()
	ix.invocations++

	select {
	case ix.sem <- struct{}{}:
		defer func() { <-ix.sem }()
	case <-ctx.Done():
		ix.failures++
		return handler.Retry(time.Second)
	}

	req, err := envelope.DecodePayload[domain.DocumentIndexRequest](env.Payload)
	if err != nil {
		ix.failures++
		return ix.fail(env, "DECODE_FAILED", err.Error(), false, time.Since(start))
	}
	if req.SourcePath == "" || req.Content == nil {
		ix.failures++
		return ix.fail(env, "INVALID_INPUT", "source_path and content are required", false, time.Since(start))
	}

	chunkSize := req.IndexingOptions.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	overlap := req.IndexingOptions.ChunkOverlap
	if overlap <= 0 {
		overlap = DefaultChunkOverlap
	}

	texts := chunkText(*req.Content, chunkSize, overlap)
	fingerprints := make([]string, len(texts))
	for i, t := range texts {
		fingerprints[i] = domain.ContentFingerprint(t)
	}
	documentHash := domain.DeriveDocumentHash(fingerprints)

	results := fn.FanOut(
		func() subResult { return ix.runEmbedding(ctx, req, texts) },
		func() subResult { return ix.runGraphUpsert(ctx, req) },
		func() subResult { return ix.runEntityExtraction(ctx, req) },
		func() subResult { return ix.runQuality(ctx, req) },
	)

	timings := domain.ServiceTimings{}
	var failedService string
	var partial bool
	var entityIDs []string
	var relationshipsCreated int
	var qualityScore *float64
	var onexCompliance *bool
	for _, r := range results {
		timings[r.name] = r.millis
		if r.err != nil {
			ix.log.Warn("indexer: sub-service failed", "service", r.name, "error", r.err, "critical", r.critical)
			if r.critical {
				ix.failures++
				return ix.fail(env, "CRITICAL_SERVICE_FAILED", fmt.Sprintf("%s: %v", r.name, r.err), true, time.Since(start))
			}
			partial = true
			failedService = r.name
			continue
		}
		if r.name == serviceEntities {
			entityIDs = r.entityIDs
			relationshipsCreated = r.relationships
		}
		if r.name == serviceQuality {
			qualityScore = r.qualityScore
			onexCompliance = r.onexCompliance
		}
	}

	embeddedChunks := make([]domain.EmbeddedChunk, len(texts))
	for i, t := range texts {
		embeddedChunks[i] = domain.EmbeddedChunk{
			Content:              t,
			ItemType:             "chunk",
			ContentFingerprint:   fingerprints[i],
			VersionHash:          documentHash,
			CharacterOffsetStart: i * chunkSize,
			CharacterOffsetEnd:   i*chunkSize + len(t),
			SourceRef:            req.SourcePath,
			CorrelationID:        env.CorrelationID,
		}
	}

	var vectorIDs []string
	var counters contextwriter.Counters
	if ix.deps.ContextWriter != nil && len(embeddedChunks) > 0 {
		counters = ix.deps.ContextWriter.WriteBatch(ctx, embeddedChunks, contextwriter.WriteOptions{
			EmitEvent: req.IndexingOptions.EmitEvent,
			Parent:    env,
		})
		if counters.ItemsFailed == counters.TotalChunks && counters.TotalChunks > 0 {
			ix.failures++
			return ix.fail(env, "WRITE_FAILED", "all chunks failed to write", true, time.Since(start))
		}
	}

	completed := domain.DocumentIndexCompleted{
		DocumentHash:         documentHash,
		EntityIDs:            entityIDs,
		VectorIDs:            vectorIDs,
		EntitiesExtracted:    len(entityIDs),
		RelationshipsCreated: relationshipsCreated,
		ChunksIndexed:        len(embeddedChunks) - counters.ItemsFailed,
		ProcessingTimeMS:     time.Since(start).Milliseconds(),
		ServiceTimings:       timings,
		QualityScore:         qualityScore,
		OnexCompliance:       onexCompliance,
		FailedService:        failedService,
		PartialResults:       partial,
	}
	payload, err := envelope.EncodePayload(completed)
	if err != nil {
		ix.failures++
		return ix.fail(env, "ENCODE_FAILED", err.Error(), true, time.Since(start))
	}
	out := envelope.Derive(env, domain.EventDocumentIndexCompleted, payload)
	return handler.Ack(out)
}

func (ix *Indexer) fail(env domain.Envelope, code, message string, retryAllowed bool, elapsed time.Duration) handler.Outcome {
	failed := domain.DocumentIndexFailed{
		ErrorCode:        code,
		ErrorMessage:     message,
		RetryAllowed:     retryAllowed,
		ProcessingTimeMS: elapsed.Milliseconds(),
	}
	payload, err := envelope.EncodePayload(failed)
	if err != nil {
		return handler.DeadLetter("ENCODE_FAILED: " + err.Error())
	}
	out := envelope.Derive(env, domain.EventDocumentIndexFailed, payload)
	return handler.Ack(out)
}

func (ix *Indexer) runEmbedding(ctx context.Context, req domain.DocumentIndexRequest, texts []string) subResult {
	start := time.Now()
	if ix.deps.Embedding == nil || len(texts) == 0 {
		return subResult{name: serviceEmbedding, critical: true, millis: time.Since(start).Milliseconds()}
	}
	err := ix.breakers[serviceEmbedding].Call(ctx, func(callCtx context.Context) error {
		_, e := ix.deps.Embedding.Embed(callCtx, texts)
		return e
	})
	return subResult{name: serviceEmbedding, critical: true, err: err, millis: time.Since(start).Milliseconds()}
}

func (ix *Indexer) runGraphUpsert(ctx context.Context, req domain.DocumentIndexRequest) subResult {
	start := time.Now()
	if ix.deps.Graph == nil {
		return subResult{name: serviceGraph, critical: true, millis: time.Since(start).Milliseconds()}
	}
	err := ix.breakers[serviceGraph].Call(ctx, func(callCtx context.Context) error {
		return ix.deps.Graph.UpsertFile(callCtx, domain.File{
			Path:         req.SourcePath,
			RelativePath: req.SourcePath,
			Name:         baseName(req.SourcePath),
			FileType:     req.Language,
			EntityID:     uuid.NewString(),
		})
	})
	return subResult{name: serviceGraph, critical: true, err: err, millis: time.Since(start).Milliseconds()}
}

// runEntityExtraction pre-extracts code-construct identifiers from the
// document content and upserts each as an ENTITY node DEFINES-linked from
// the FILE node, filling entities_extracted/relationships_created on the
// completion event (§3.4's file.entity_count invariant). An unsupported
// language isn't special-cased: the patterns are generic, so a language
// that yields zero matches degrades to zero entities rather than an error.
func (ix *Indexer) runEntityExtraction(ctx context.Context, req domain.DocumentIndexRequest) subResult {
	start := time.Now()
	if req.IndexingOptions.SkipEntities || req.Content == nil {
		return subResult{name: serviceEntities, critical: false, millis: time.Since(start).Milliseconds()}
	}
	entities := extractConstructs(*req.Content)
	if len(entities) == 0 || ix.deps.Graph == nil {
		return subResult{name: serviceEntities, critical: false, millis: time.Since(start).Milliseconds()}
	}

	var ids []string
	err := ix.breakers[serviceEntities].Call(ctx, func(callCtx context.Context) error {
		ids = ids[:0]
		for _, e := range entities {
			id := uuid.NewString()
			if err := ix.deps.Graph.UpsertEntity(callCtx, id, e); err != nil {
				return err
			}
			if err := ix.deps.Graph.Defines(callCtx, req.SourcePath, id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return subResult{name: serviceEntities, critical: false, err: err, millis: time.Since(start).Milliseconds()}
	}
	return subResult{
		name:          serviceEntities,
		critical:      false,
		millis:        time.Since(start).Milliseconds(),
		entityIDs:     ids,
		relationships: len(ids),
	}
}

// runQuality calls the injected quality collaborator, when one is
// configured; the core never scores content itself (§1 non-goal).
func (ix *Indexer) runQuality(ctx context.Context, req domain.DocumentIndexRequest) subResult {
	start := time.Now()
	if req.IndexingOptions.SkipQuality || ix.deps.Quality == nil || req.Content == nil {
		return subResult{name: serviceQuality, critical: false, millis: time.Since(start).Milliseconds()}
	}
	var score float64
	var compliant bool
	err := ix.breakers[serviceQuality].Call(ctx, func(callCtx context.Context) error {
		s, c, e := ix.deps.Quality.AssessQuality(callCtx, req.SourcePath, req.Language, *req.Content)
		score, compliant = s, c
		return e
	})
	if err != nil {
		return subResult{name: serviceQuality, critical: false, err: err, millis: time.Since(start).Milliseconds()}
	}
	return subResult{
		name:           serviceQuality,
		critical:       false,
		millis:         time.Since(start).Milliseconds(),
		qualityScore:   &score,
		onexCompliance: &compliant,
	}
}

// chunkText splits content into ~chunkSize-rune windows with overlap,
// adapted from the teacher's word-count based chunkSentences but simplified
// to operate directly on rune windows since indexer input is arbitrary
// source text rather than prose.
func chunkText(content string, chunkSize, overlap int) []string {
	if content == "" {
		return nil
	}
	runes := []rune(content)
	if len(runes) <= chunkSize {
		return []string{content}
	}

	var chunks []string
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func baseName(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
