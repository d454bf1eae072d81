package pg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// TestNewStore_Defaults verifies that zero config values fall back to the
// standard dimension, pool, and search settings.
func TestNewStore_Defaults(t *testing.T) {
	s := NewStore(Config{DSN: "postgres://localhost/engram"})

	if s.cfg.Dimensions != 1536 {
		t.Errorf("Dimensions = %d, want 1536", s.cfg.Dimensions)
	}
	if s.cfg.PoolMinSize != 2 || s.cfg.PoolMaxSize != 10 {
		t.Errorf("pool = %d-%d, want 2-10", s.cfg.PoolMinSize, s.cfg.PoolMaxSize)
	}
	if s.cfg.SemanticSearchLimit != 10 {
		t.Errorf("SemanticSearchLimit = %d, want 10", s.cfg.SemanticSearchLimit)
	}
	if s.tables.daily != "memory_daily_dim1536" {
		t.Errorf("daily table = %q", s.tables.daily)
	}
}

// TestSemanticSection verifies the rendered retrieval block: dated sources
// carry their date, long-term rows do not, similarity prints two decimals.
func TestSemanticSection(t *testing.T) {
	results := []SearchResult{
		{Source: "daily", SourceID: 3, Content: "prefers tea over coffee", EntryDate: "2026-08-24", Similarity: 0.912},
		{Source: "long_term", SourceID: 1, Content: "lives in Hanoi", Similarity: 0.8},
		{Source: "conversation", SourceID: 9, Content: "user: book the 9am train", EntryDate: "2026-08-25", Similarity: 0.4567},
	}

	want := "## Relevant Memories (semantic)\n" +
		"- [daily (2026-08-24) sim=0.91] prefers tea over coffee\n" +
		"- [long_term sim=0.80] lives in Hanoi\n" +
		"- [conversation (2026-08-25) sim=0.46] user: book the 9am train"

	if got := semanticSection(results); got != want {
		t.Errorf("semanticSection = %q, want %q", got, want)
	}
}

// TestIsUniqueViolation verifies detection through wrapped error chains.
func TestIsUniqueViolation(t *testing.T) {
	uv := &pgconn.PgError{Code: uniqueViolationCode}

	if !isUniqueViolation(uv) {
		t.Error("bare unique violation not detected")
	}
	if !isUniqueViolation(fmt.Errorf("insert: %w", uv)) {
		t.Error("wrapped unique violation not detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation misread as unique violation")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Error("plain error misread as unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("nil misread as unique violation")
	}
}
