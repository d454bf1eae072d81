// Package file implements the workspace-rooted memory backend: day-stamped
// markdown notes plus one long-term file.
package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/engramhq/engram/internal/memory"
)

// Store keeps memory under <workspace>/memory: one YYYY-MM-DD.md file per
// calendar day (local time) and MEMORY.md for long-term memory.
type Store struct {
	mu       sync.RWMutex
	dir      string
	longTerm string
}

var _ memory.Backend = (*Store)(nil)

// NewStore returns a store rooted at workspace.
func NewStore(workspace string) *Store {
	dir := filepath.Join(workspace, "memory")
	return &Store{
		dir:      dir,
		longTerm: filepath.Join(dir, "MEMORY.md"),
	}
}

// Initialize creates the memory directory.
func (s *Store) Initialize(ctx context.Context) error {
	return os.MkdirAll(s.dir, 0755)
}

// Close is a no-op for the file backend.
func (s *Store) Close(ctx context.Context) error {
	return nil
}

// ReadToday returns today's notes, or "" when the file does not exist.
func (s *Store) ReadToday(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := memory.DayStamp(time.Now())
	return readIfExists(filepath.Join(s.dir, day+".md"))
}

// AppendToday adds content to today's notes, opening the day with a
// # YYYY-MM-DD header on first write. Existing content is preserved and
// separated from the new entry by a newline.
func (s *Store) AppendToday(ctx context.Context, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	day := memory.DayStamp(time.Now())
	path := filepath.Join(s.dir, day+".md")

	var buf string
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		buf = string(existing) + "\n" + content
	case os.IsNotExist(err):
		buf = memory.DayHeader(day) + content
	default:
		return err
	}
	return os.WriteFile(path, []byte(buf), 0644)
}

// ReadLongTerm returns MEMORY.md, or "" when absent.
func (s *Store) ReadLongTerm(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readIfExists(s.longTerm)
}

// WriteLongTerm replaces MEMORY.md. Temp file plus rename keeps a
// concurrent reader on either the old or the new content, never a torn mix.
func (s *Store) WriteLongTerm(ctx context.Context, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(s.dir, "MEMORY-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.WriteString(content); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.longTerm); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// RecentMemories returns the last days of notes, today first, joined with
// a horizontal-rule separator. days <= 0 yields "".
func (s *Store) RecentMemories(ctx context.Context, days int) (string, error) {
	if days <= 0 {
		return "", nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	today := time.Now()
	var parts []string
	for i := 0; i < days; i++ {
		day := memory.DayStamp(today.AddDate(0, 0, -i))
		content, err := readIfExists(filepath.Join(s.dir, day+".md"))
		if err != nil {
			return "", err
		}
		if content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, memory.RecentSeparator), nil
}

// MemoryContext composes long-term memory and today's notes.
func (s *Store) MemoryContext(ctx context.Context) (string, error) {
	longTerm, err := s.ReadLongTerm(ctx)
	if err != nil {
		return "", err
	}
	today, err := s.ReadToday(ctx)
	if err != nil {
		return "", err
	}
	return memory.ComposeContext(longTerm, today), nil
}

func readIfExists(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
