package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/engramhq/engram/internal/bootstrap"
)

type fakeMemory struct {
	contextOut string
	contextErr error
}

func (m *fakeMemory) Initialize(context.Context) error                 { return nil }
func (m *fakeMemory) Close(context.Context) error                      { return nil }
func (m *fakeMemory) ReadToday(context.Context) (string, error)        { return "", nil }
func (m *fakeMemory) AppendToday(context.Context, string) error        { return nil }
func (m *fakeMemory) ReadLongTerm(context.Context) (string, error)     { return "", nil }
func (m *fakeMemory) WriteLongTerm(context.Context, string) error      { return nil }
func (m *fakeMemory) RecentMemories(context.Context, int) (string, error) {
	return "", nil
}
func (m *fakeMemory) MemoryContext(context.Context) (string, error) {
	return m.contextOut, m.contextErr
}

type semanticMemory struct {
	fakeMemory
	semanticOut string
	semanticErr error
	queries     []string
}

func (m *semanticMemory) MemoryContextSemantic(_ context.Context, query string) (string, error) {
	m.queries = append(m.queries, query)
	return m.semanticOut, m.semanticErr
}

func writeBootstrap(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildSystemPromptSections(t *testing.T) {
	dir := t.TempDir()
	writeBootstrap(t, dir, bootstrap.AgentsFile, "be direct")
	writeBootstrap(t, dir, bootstrap.SoulFile, "be kind")

	b := NewContextBuilder(dir, &fakeMemory{contextOut: "## Long-term Memory\nuser likes go"})
	prompt := b.BuildSystemPrompt(context.Background(), "")

	wantOrder := []string{
		"# AI assistant",
		"## AGENTS.md\n\nbe direct",
		"## SOUL.md\n\nbe kind",
		"# Memory\n\n## Long-term Memory\nuser likes go",
	}
	last := -1
	for _, section := range wantOrder {
		idx := strings.Index(prompt, section)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", section, prompt)
		}
		if idx < last {
			t.Errorf("section %q out of order", section)
		}
		last = idx
	}

	if got := strings.Count(prompt, sectionSeparator); got != 2 {
		t.Errorf("separator count = %d, want 2", got)
	}
}

func TestBuildSystemPromptIdentityOnly(t *testing.T) {
	b := NewContextBuilder(t.TempDir(), nil)
	prompt := b.BuildSystemPrompt(context.Background(), "")

	if !strings.Contains(prompt, "# AI assistant") {
		t.Error("identity section missing")
	}
	if strings.Contains(prompt, sectionSeparator) {
		t.Error("no other sections expected, but separator present")
	}
}

func TestBuildSystemPromptSemanticPreferred(t *testing.T) {
	mem := &semanticMemory{semanticOut: "SEMANTIC HIT"}
	mem.contextOut = "PLAIN"
	b := NewContextBuilder(t.TempDir(), mem)

	prompt := b.BuildSystemPrompt(context.Background(), "where did I park")
	if !strings.Contains(prompt, "SEMANTIC HIT") {
		t.Error("semantic context not used for query")
	}
	if len(mem.queries) != 1 || mem.queries[0] != "where did I park" {
		t.Errorf("queries = %v", mem.queries)
	}

	// Without a query the plain composition is used even though the
	// capability exists.
	prompt = b.BuildSystemPrompt(context.Background(), "")
	if !strings.Contains(prompt, "PLAIN") {
		t.Error("plain context not used without query")
	}
	if len(mem.queries) != 1 {
		t.Errorf("semantic called without query: %v", mem.queries)
	}
}

func TestBuildSystemPromptSemanticErrorFallsBack(t *testing.T) {
	mem := &semanticMemory{semanticErr: os.ErrDeadlineExceeded}
	mem.contextOut = "PLAIN"
	b := NewContextBuilder(t.TempDir(), mem)

	prompt := b.BuildSystemPrompt(context.Background(), "anything")
	if !strings.Contains(prompt, "PLAIN") {
		t.Error("expected fallback to plain context")
	}
}

func TestBuildSystemPromptMemoryErrorOmitsSection(t *testing.T) {
	b := NewContextBuilder(t.TempDir(), &fakeMemory{contextErr: os.ErrPermission})
	prompt := b.BuildSystemPrompt(context.Background(), "")
	if strings.Contains(prompt, "# Memory") {
		t.Error("memory section present despite backend error")
	}
}

func TestBuildMessages(t *testing.T) {
	b := NewContextBuilder(t.TempDir(), nil)
	msgs := b.BuildMessages(context.Background(), "openai", "joe:1a2b3c4d", "hello")

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first role = %s", msgs[0].Role)
	}
	if !strings.HasSuffix(msgs[0].Content, "## Current Session\nChannel: openai\nChat ID: joe:1a2b3c4d") {
		t.Errorf("system prompt missing session block:\n%s", msgs[0].Content)
	}
	if msgs[1].Role != "user" || msgs[1].Content != "hello" {
		t.Errorf("user message = %+v", msgs[1])
	}
}

func TestBuildMessagesNoSessionWithoutChat(t *testing.T) {
	b := NewContextBuilder(t.TempDir(), nil)
	msgs := b.BuildMessages(context.Background(), "", "", "hello")
	if strings.Contains(msgs[0].Content, "## Current Session") {
		t.Error("session block present without channel/chat")
	}
}

func TestInvalidateRereadsBootstrap(t *testing.T) {
	dir := t.TempDir()
	writeBootstrap(t, dir, bootstrap.AgentsFile, "v1")
	b := NewContextBuilder(dir, nil)

	prompt := b.BuildSystemPrompt(context.Background(), "")
	if !strings.Contains(prompt, "v1") {
		t.Fatal("initial content missing")
	}

	writeBootstrap(t, dir, bootstrap.AgentsFile, "v2")
	prompt = b.BuildSystemPrompt(context.Background(), "")
	if !strings.Contains(prompt, "v1") {
		t.Error("cache should still serve v1 before invalidation")
	}

	b.Invalidate()
	prompt = b.BuildSystemPrompt(context.Background(), "")
	if !strings.Contains(prompt, "v2") {
		t.Error("invalidate did not trigger a reread")
	}
}
