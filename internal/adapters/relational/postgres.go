// Package relational implements the relational store adapter of §4.8,
// adapted from the teacher's com.r3e.services.* store_postgres.go files
// (plain database/sql + *sql.DB, $N placeholders, ExecContext/QueryRowContext,
// sql.ErrNoRows surfaced directly rather than wrapped) against lib/pq.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

// Store is the positional-identity backed item store underlying the
// idempotent writer (§4.8).
type Store struct {
	db *sql.DB
}

// Open connects to dsn using the lib/pq driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: open: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB, for callers that manage the pool
// themselves or inject a mock in tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Item is a single indexed chunk row keyed by positional identity.
type Item struct {
	ID                 string
	SourceRef          string
	CharacterStart     int
	CharacterEnd       int
	ContentFingerprint string
	VersionHash        string
	ItemType           string
	BootstrapTier      string
	TierConfidence     float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LookupByPosition finds the existing item at the given positional identity
// (source_ref, char_start, char_end), or sql.ErrNoRows if none exists.
func (s *Store) LookupByPosition(ctx context.Context, pos domain.Position) (Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_ref, char_start, char_end, content_fingerprint, version_hash,
		       item_type, bootstrap_tier, tier_confidence, created_at, updated_at
		FROM indexed_items
		WHERE source_ref = $1 AND char_start = $2 AND char_end = $3
	`, pos.SourceRef, pos.Start, pos.End)
	return scanItem(row)
}

// InsertItem creates a new row, returning the inserted item with timestamps set.
func (s *Store) InsertItem(ctx context.Context, it Item) (Item, error) {
	now := time.Now().UTC()
	it.CreatedAt = now
	it.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexed_items
			(id, source_ref, char_start, char_end, content_fingerprint, version_hash,
			 item_type, bootstrap_tier, tier_confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, it.ID, it.SourceRef, it.CharacterStart, it.CharacterEnd, it.ContentFingerprint, it.VersionHash,
		it.ItemType, it.BootstrapTier, it.TierConfidence, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("relational: insert item %s: %w", it.ID, err)
	}
	return it, nil
}

// UpdateItemFingerprint updates the fingerprint and version hash of an
// existing item by id — the UPDATED-path write of the idempotency core.
func (s *Store) UpdateItemFingerprint(ctx context.Context, id, fingerprint, versionHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE indexed_items
		SET content_fingerprint = $2, version_hash = $3, updated_at = $4
		WHERE id = $1
	`, id, fingerprint, versionHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("relational: update fingerprint for %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("relational: rows affected for %s: %w", id, err)
	}
	if rows == 0 {
		return domain.ErrRepositoryNotFound
	}
	return nil
}

// DeleteByProject removes every item belonging to project_id, for the
// project-delete lifecycle operation (§3.6).
func (s *Store) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM indexed_items WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, fmt.Errorf("relational: delete by project %s: %w", projectID, err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.SourceRef, &it.CharacterStart, &it.CharacterEnd,
		&it.ContentFingerprint, &it.VersionHash, &it.ItemType, &it.BootstrapTier,
		&it.TierConfidence, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, sql.ErrNoRows
		}
		return Item{}, fmt.Errorf("relational: scan item: %w", err)
	}
	return it, nil
}
