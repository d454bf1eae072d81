// Package memory defines the pluggable persistent memory contract shared by
// the file and Postgres backends, plus the context composition they have in
// common.
package memory

import (
	"context"
	"strings"
	"time"
)

// Backend is the persistent memory store consumed by the agent. Stores are
// created once at process start, initialized, used by concurrent callers,
// and closed on shutdown.
type Backend interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	// ReadToday returns today's notes, or "" when none exist.
	ReadToday(ctx context.Context) (string, error)
	// AppendToday adds content to today's notes.
	AppendToday(ctx context.Context, content string) error
	// ReadLongTerm returns the current long-term memory, or "".
	ReadLongTerm(ctx context.Context) (string, error)
	// WriteLongTerm replaces the long-term memory.
	WriteLongTerm(ctx context.Context, content string) error
	// RecentMemories returns the last days of notes, newest first.
	RecentMemories(ctx context.Context, days int) (string, error)
	// MemoryContext returns the composed context for the system prompt.
	MemoryContext(ctx context.Context) (string, error)
}

// SemanticSearcher is the optional retrieval capability. Callers probe for
// it with a type assertion and prefer it over plain MemoryContext when the
// backend provides it.
type SemanticSearcher interface {
	// MemoryContextSemantic returns context assembled around query. It
	// never fails harder than MemoryContext: backends fall back to the
	// plain composition when semantic retrieval is unavailable.
	MemoryContextSemantic(ctx context.Context, query string) (string, error)
}

// Ingestor records completed dialogue turns. Implementations are
// best-effort: errors are logged, never returned, so the reply path cannot
// be failed by bookkeeping.
type Ingestor interface {
	IngestTurn(ctx context.Context, sessionKey, userMsg, assistantMsg string)
}

// NullIngestor drops every turn. Used when conversation ingestion is
// disabled or the backend has nowhere durable to put it.
type NullIngestor struct{}

func (NullIngestor) IngestTurn(context.Context, string, string, string) {}

// RecentSeparator joins per-day blocks in RecentMemories output.
const RecentSeparator = "\n\n---\n\n"

// Section headers used when composing memory context.
const (
	LongTermHeader = "## Long-term Memory\n"
	TodayHeader    = "## Today's Notes\n"
)

// DayStamp formats t as the day key used in file names and headers.
func DayStamp(t time.Time) string {
	return t.Format("2006-01-02")
}

// DayHeader returns the heading that opens a day's notes.
func DayHeader(day string) string {
	return "# " + day + "\n\n"
}

// ComposeContext builds the standard two-section memory context. Empty
// sections are omitted; both empty yields "".
func ComposeContext(longTerm, today string) string {
	parts := make([]string, 0, 2)
	if longTerm != "" {
		parts = append(parts, LongTermHeader+longTerm)
	}
	if today != "" {
		parts = append(parts, TodayHeader+today)
	}
	return strings.Join(parts, "\n\n")
}
