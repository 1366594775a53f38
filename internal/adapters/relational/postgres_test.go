package relational

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestLookupByPositionReturnsRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "source_ref", "char_start", "char_end", "content_fingerprint", "version_hash",
		"item_type", "bootstrap_tier", "tier_confidence", "created_at", "updated_at",
	}).AddRow("item-1", "src.go", 0, 10, "fp1", "v1", "chunk", "VALIDATED", 0.9, now, now)

	mock.ExpectQuery("SELECT (.+) FROM indexed_items").
		WithArgs("src.go", 0, 10).
		WillReturnRows(rows)

	item, err := s.LookupByPosition(context.Background(), domain.Position{SourceRef: "src.go", Start: 0, End: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.ID != "item-1" || item.ContentFingerprint != "fp1" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLookupByPositionNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM indexed_items").
		WithArgs("src.go", 0, 10).
		WillReturnError(sql.ErrNoRows)

	_, err := s.LookupByPosition(context.Background(), domain.Position{SourceRef: "src.go", Start: 0, End: 10})
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestInsertItemSetsTimestamps(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO indexed_items").WillReturnResult(sqlmock.NewResult(1, 1))

	it, err := s.InsertItem(context.Background(), Item{ID: "item-2", SourceRef: "src.go", CharacterStart: 0, CharacterEnd: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.CreatedAt.IsZero() || it.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set: %+v", it)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateItemFingerprintNotFoundWhenNoRowsAffected(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE indexed_items").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateItemFingerprint(context.Background(), "missing", "fp", "v2")
	if err != domain.ErrRepositoryNotFound {
		t.Fatalf("expected ErrRepositoryNotFound, got %v", err)
	}
}

func TestUpdateItemFingerprintSucceeds(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE indexed_items").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateItemFingerprint(context.Background(), "item-1", "fp2", "v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteByProjectReturnsRowsAffected(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM indexed_items").WithArgs("proj-1").WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.DeleteByProject(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42 rows deleted, got %d", n)
	}
}
