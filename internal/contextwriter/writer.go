// Package contextwriter implements the idempotency core of §4.8: given a
// batch of embedded chunks, classify each against its positional identity
// in the relational store and fan the write out to the vector and graph
// stores, never aborting the batch on a single chunk's failure. Grounded on
// the teacher's engine/ingest.go NewStore stage for the write-then-continue
// shape, generalised to the CREATED/UPDATED/SKIPPED/FAILED classification.
package contextwriter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/omninode-ai/omniintelligence-core/internal/adapters/graph"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/relational"
	"github.com/omninode-ai/omniintelligence-core/internal/adapters/vector"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/envelope"
)

// VectorCollection is the Qdrant collection chunks are written to.
const VectorCollection = "context_items"

// relationalStore is the slice of *relational.Store the writer needs;
// narrowed to an interface so tests can substitute a fake for the
// relational leg without touching the adapter packages themselves.
type relationalStore interface {
	LookupByPosition(ctx context.Context, pos domain.Position) (relational.Item, error)
	InsertItem(ctx context.Context, item relational.Item) (relational.Item, error)
	UpdateItemFingerprint(ctx context.Context, itemID, fingerprint, versionHash string) error
}

// vectorStore is the slice of *vector.Store the writer needs.
type vectorStore interface {
	UpsertPoint(ctx context.Context, collection string, p vector.Point) error
}

// graphStore is the slice of *graph.Store the writer needs.
type graphStore interface {
	UpsertEntity(ctx context.Context, id string, e domain.Entity) error
	Defines(ctx context.Context, sourceRef, itemID string) error
}

// publisher is the slice of *bus.Bus the writer needs to emit the optional
// post-write document_indexed event.
type publisher interface {
	Publish(ctx context.Context, env domain.Envelope) error
}

// Deps holds the collaborators the writer fans writes out to.
type Deps struct {
	Relational relationalStore
	Vector     vectorStore
	Graph      graphStore
	Publisher  publisher
	TierRules  []domain.TierRule
	Logger     *slog.Logger
}

// WriteOptions controls per-call behaviour of WriteBatch that doesn't belong
// on Deps because it varies per request rather than per writer instance.
type WriteOptions struct {
	// EmitEvent, when set, publishes a document_indexed event deriving
	// correlation_id/causation_id from Parent once the batch completes.
	EmitEvent bool
	Parent    domain.Envelope
}

// Counters is the immutable result of processing a batch (§4.8).
type Counters struct {
	ItemsCreated int
	ItemsUpdated int
	ItemsSkipped int
	ItemsFailed  int
	TotalChunks  int
	EventEmitted bool
}

// Writer is the idempotency core.
type Writer struct {
	deps Deps
	log  *slog.Logger
}

// New creates a Writer.
func New(deps Deps) *Writer {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Writer{deps: deps, log: log}
}

// WriteBatch processes chunks sequentially (§4.8's ordering rule: positions
// within one batch are processed one at a time to keep conflicts
// deterministic) and returns the aggregate counters. When opts.EmitEvent is
// set, a document_indexed event is published once the batch completes;
// publish failures are non-blocking and only clear Counters.EventEmitted —
// they never alter the write counters or surface as an error.
func (w *Writer) WriteBatch(ctx context.Context, chunks []domain.EmbeddedChunk, opts WriteOptions) Counters {
	ordered := domain.SortByPosition(chunks)
	c := Counters{TotalChunks: len(ordered)}

	for _, chunk := range ordered {
		outcome, err := w.writeOne(ctx, chunk)
		if err != nil {
			c.ItemsFailed++
			w.log.Error("contextwriter: write failed", "error", err, "source_ref", chunk.SourceRef)
			continue
		}
		switch outcome {
		case domain.OutcomeCreated:
			c.ItemsCreated++
		case domain.OutcomeUpdated:
			c.ItemsUpdated++
		case domain.OutcomeSkipped:
			c.ItemsSkipped++
		}
	}

	if opts.EmitEvent {
		c.EventEmitted = w.emitDocumentIndexed(ctx, opts.Parent, c)
	}
	return c
}

// emitDocumentIndexed publishes the optional post-write event and reports
// whether the publish succeeded, per §4.8's non-blocking emission rule.
func (w *Writer) emitDocumentIndexed(ctx context.Context, parent domain.Envelope, c Counters) bool {
	if w.deps.Publisher == nil {
		return false
	}
	payload, err := envelope.EncodePayload(domain.DocumentIndexed{
		ItemsCreated: c.ItemsCreated,
		ItemsUpdated: c.ItemsUpdated,
		ItemsSkipped: c.ItemsSkipped,
		ItemsFailed:  c.ItemsFailed,
		TotalChunks:  c.TotalChunks,
	})
	if err != nil {
		w.log.Warn("contextwriter: encode document_indexed failed", "error", err)
		return false
	}
	out := envelope.Derive(parent, domain.EventDocumentIndexed, payload)
	if err := w.deps.Publisher.Publish(ctx, out); err != nil {
		w.log.Warn("contextwriter: publish document_indexed failed", "error", err)
		return false
	}
	return true
}

func (w *Writer) writeOne(ctx context.Context, chunk domain.EmbeddedChunk) (domain.Outcome, error) {
	if err := chunk.Validate(); err != nil {
		return domain.OutcomeFailed, fmt.Errorf("contextwriter: invalid chunk: %w", err)
	}

	existing, err := w.deps.Relational.LookupByPosition(ctx, chunk.Position())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return w.create(ctx, chunk)
	case err != nil:
		return domain.OutcomeFailed, fmt.Errorf("contextwriter: lookup: %w", err)
	case existing.ContentFingerprint == chunk.ContentFingerprint:
		return domain.OutcomeSkipped, nil
	default:
		return w.update(ctx, existing.ID, chunk)
	}
}

func (w *Writer) create(ctx context.Context, chunk domain.EmbeddedChunk) (domain.Outcome, error) {
	itemID := uuid.NewString()
	tier, confidence := domain.AssignTier(chunk.SourceRef, w.deps.TierRules, globMatch)

	item := relational.Item{
		ID:                 itemID,
		SourceRef:          chunk.SourceRef,
		CharacterStart:     chunk.CharacterOffsetStart,
		CharacterEnd:       chunk.CharacterOffsetEnd,
		ContentFingerprint: chunk.ContentFingerprint,
		VersionHash:        chunk.VersionHash,
		ItemType:           chunk.ItemType,
		BootstrapTier:      string(tier),
		TierConfidence:     confidence,
	}
	if _, err := w.deps.Relational.InsertItem(ctx, item); err != nil {
		return domain.OutcomeFailed, fmt.Errorf("contextwriter: insert: %w", err)
	}

	if err := w.upsertVector(ctx, itemID, chunk); err != nil {
		return domain.OutcomeFailed, err
	}
	if err := w.upsertGraphEdge(ctx, itemID, chunk.SourceRef); err != nil {
		return domain.OutcomeFailed, err
	}
	return domain.OutcomeCreated, nil
}

func (w *Writer) update(ctx context.Context, itemID string, chunk domain.EmbeddedChunk) (domain.Outcome, error) {
	if err := w.deps.Relational.UpdateItemFingerprint(ctx, itemID, chunk.ContentFingerprint, chunk.VersionHash); err != nil {
		return domain.OutcomeFailed, fmt.Errorf("contextwriter: update fingerprint: %w", err)
	}
	if err := w.upsertVector(ctx, itemID, chunk); err != nil {
		return domain.OutcomeFailed, err
	}
	if err := w.upsertGraphEdge(ctx, itemID, chunk.SourceRef); err != nil {
		return domain.OutcomeFailed, err
	}
	return domain.OutcomeUpdated, nil
}

func (w *Writer) upsertVector(ctx context.Context, itemID string, chunk domain.EmbeddedChunk) error {
	point := vector.Point{
		ID:        itemID,
		Embedding: chunk.Embedding,
		Payload: map[string]any{
			"content": chunk.Content,
			"doc_id":  chunk.SourceRef,
			"source":  chunk.SourceRef,
		},
	}
	if err := w.deps.Vector.UpsertPoint(ctx, VectorCollection, point); err != nil {
		return fmt.Errorf("contextwriter: vector upsert: %w", err)
	}
	return nil
}

func (w *Writer) upsertGraphEdge(ctx context.Context, itemID, sourceRef string) error {
	if err := w.deps.Graph.UpsertEntity(ctx, itemID, domain.Entity{Name: itemID, Type: "CONTEXT_ITEM"}); err != nil {
		return fmt.Errorf("contextwriter: graph entity: %w", err)
	}
	if err := w.deps.Graph.Defines(ctx, sourceRef, itemID); err != nil {
		return fmt.Errorf("contextwriter: graph edge: %w", err)
	}
	return nil
}

// globMatch is the glob matcher used for bootstrap tier assignment; kept as
// a narrow adapter so domain.AssignTier stays free of filesystem imports.
func globMatch(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}
