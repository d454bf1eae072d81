package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

// TestAppendToday_FirstWriteAddsHeader verifies the day header appears once
// and appended content lands as a suffix.
func TestAppendToday_FirstWriteAddsHeader(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendToday(ctx, "pizza is great"); err != nil {
		t.Fatalf("AppendToday: %v", err)
	}

	got, err := s.ReadToday(ctx)
	if err != nil {
		t.Fatalf("ReadToday: %v", err)
	}
	day := memory.DayStamp(time.Now())
	if !strings.HasPrefix(got, "# "+day+"\n\n") {
		t.Errorf("first write missing day header, got %q", got)
	}
	if !strings.HasSuffix(got, "pizza is great") {
		t.Errorf("content not a suffix of today's notes: %q", got)
	}

	if err := s.AppendToday(ctx, "second note"); err != nil {
		t.Fatalf("AppendToday(second): %v", err)
	}
	got, err = s.ReadToday(ctx)
	if err != nil {
		t.Fatalf("ReadToday: %v", err)
	}
	if !strings.HasSuffix(got, "pizza is great\nsecond note") {
		t.Errorf("second append not separated by newline: %q", got)
	}
	if strings.Count(got, "# "+day) != 1 {
		t.Errorf("day header duplicated: %q", got)
	}
}

// TestReadToday_MissingFile verifies absence reads as empty, not error.
func TestReadToday_MissingFile(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ReadToday(context.Background())
	if err != nil {
		t.Fatalf("ReadToday: %v", err)
	}
	if got != "" {
		t.Errorf("ReadToday on empty store = %q, want \"\"", got)
	}
}

// TestLongTerm_RoundTrip verifies write-then-read and replacement semantics.
func TestLongTerm_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if got, err := s.ReadLongTerm(ctx); err != nil || got != "" {
		t.Fatalf("ReadLongTerm on empty store = (%q, %v), want (\"\", nil)", got, err)
	}

	if err := s.WriteLongTerm(ctx, "v1"); err != nil {
		t.Fatalf("WriteLongTerm: %v", err)
	}
	if err := s.WriteLongTerm(ctx, "v2"); err != nil {
		t.Fatalf("WriteLongTerm: %v", err)
	}

	got, err := s.ReadLongTerm(ctx)
	if err != nil {
		t.Fatalf("ReadLongTerm: %v", err)
	}
	if got != "v2" {
		t.Errorf("ReadLongTerm = %q, want %q", got, "v2")
	}

	// The replace must not leave temp files behind.
	entries, err := os.ReadDir(filepath.Join(s.dir))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("stale temp file left behind: %s", e.Name())
		}
	}
}

// TestRecentMemories verifies reverse-chronological assembly and the
// days<=0 guard.
func TestRecentMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	write := func(daysAgo int, content string) {
		day := memory.DayStamp(now.AddDate(0, 0, -daysAgo))
		path := filepath.Join(s.dir, day+".md")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("seed %s: %v", day, err)
		}
	}
	write(0, "today notes")
	write(1, "yesterday notes")
	write(3, "older notes")

	got, err := s.RecentMemories(ctx, 7)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	want := "today notes" + memory.RecentSeparator + "yesterday notes" + memory.RecentSeparator + "older notes"
	if got != want {
		t.Errorf("RecentMemories(7) = %q, want %q", got, want)
	}

	got, err = s.RecentMemories(ctx, 2)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	if strings.Contains(got, "older notes") {
		t.Errorf("RecentMemories(2) includes out-of-window content: %q", got)
	}

	got, err = s.RecentMemories(ctx, 1)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	if got != "today notes" {
		t.Errorf("RecentMemories(1) = %q, want today's content only", got)
	}

	got, err = s.RecentMemories(ctx, 0)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	if got != "" {
		t.Errorf("RecentMemories(0) = %q, want \"\"", got)
	}
}

// TestMemoryContext verifies the composed context and its empty form.
func TestMemoryContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.MemoryContext(ctx)
	if err != nil {
		t.Fatalf("MemoryContext: %v", err)
	}
	if got != "" {
		t.Errorf("MemoryContext on empty store = %q, want \"\"", got)
	}

	if err := s.WriteLongTerm(ctx, "user prefers brief answers"); err != nil {
		t.Fatalf("WriteLongTerm: %v", err)
	}
	if err := s.AppendToday(ctx, "debugged the gateway"); err != nil {
		t.Fatalf("AppendToday: %v", err)
	}

	got, err = s.MemoryContext(ctx)
	if err != nil {
		t.Fatalf("MemoryContext: %v", err)
	}
	if !strings.HasPrefix(got, "## Long-term Memory\nuser prefers brief answers") {
		t.Errorf("long-term section missing or malformed: %q", got)
	}
	if !strings.Contains(got, "## Today's Notes\n# ") {
		t.Errorf("today section missing: %q", got)
	}
	if !strings.HasSuffix(got, "debugged the gateway") {
		t.Errorf("today's content not included: %q", got)
	}
}

