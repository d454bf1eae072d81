package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/engramhq/engram/internal/bootstrap"
	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/providers"
)

// sectionSeparator joins the top-level blocks of the system prompt.
const sectionSeparator = "\n\n---\n\n"

// ContextBuilder assembles the system prompt from the identity block, the
// workspace bootstrap files, and the memory context. Bootstrap content is
// cached between requests; Invalidate drops the cache so the next build
// rereads the files (wired to the workspace watcher).
type ContextBuilder struct {
	workspace string
	memory    memory.Backend
	truncate  bootstrap.TruncateConfig

	mu     sync.Mutex
	files  []bootstrap.ContextFile
	loaded bool
}

// NewContextBuilder creates a builder over the given workspace and backend.
// backend may be nil, in which case prompts carry no memory section.
func NewContextBuilder(workspace string, backend memory.Backend) *ContextBuilder {
	return &ContextBuilder{
		workspace: workspace,
		memory:    backend,
	}
}

// Invalidate drops the cached bootstrap files. The next prompt build reads
// them from disk again.
func (b *ContextBuilder) Invalidate() {
	b.mu.Lock()
	b.loaded = false
	b.files = nil
	b.mu.Unlock()
}

// BuildMessages produces the full message list for one user turn: the
// system prompt (with the current session appended) and the user message.
func (b *ContextBuilder) BuildMessages(ctx context.Context, channel, chatID, content string) []providers.Message {
	system := b.BuildSystemPrompt(ctx, content)
	if channel != "" && chatID != "" {
		system += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}
	return []providers.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: content},
	}
}

// BuildSystemPrompt assembles identity, bootstrap files, and memory.
// query, when non-empty, steers semantic retrieval on backends that
// support it.
func (b *ContextBuilder) BuildSystemPrompt(ctx context.Context, query string) string {
	parts := []string{b.identity()}

	if section := b.bootstrapSection(); section != "" {
		parts = append(parts, section)
	}
	if memCtx := b.memoryContext(ctx, query); memCtx != "" {
		parts = append(parts, "# Memory\n\n"+memCtx)
	}

	return strings.Join(parts, sectionSeparator)
}

func (b *ContextBuilder) identity() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")

	return fmt.Sprintf(`# AI assistant 🐘

You are a helpful AI assistant. You have memory tools that let you save and
recall information across conversations.

## Current Time
%s

## Runtime
%s %s

## Workspace
Your workspace is at: %s

## Memory
Use the memory tools to persist important information:
- `+"`save_memory`"+`: save facts, preferences, or notes to today's daily memory
- `+"`update_long_term_memory`"+`: update persistent long-term memory (read it first to avoid overwriting)
- `+"`read_memory`"+`: read today's notes, long-term memory, or recent days

When you learn something important about the user (name, preferences,
context), proactively save it using `+"`save_memory`"+`.
Do NOT write directly to memory files, always use the memory tools.

Always be helpful, accurate, and concise.`, now, runtime.GOOS, runtime.GOARCH, b.workspace)
}

// bootstrapSection returns the cached workspace files rendered as
// "## name" blocks, or "" when the workspace has none.
func (b *ContextBuilder) bootstrapSection() string {
	b.mu.Lock()
	if !b.loaded {
		b.files = bootstrap.LoadContextFiles(b.workspace, b.truncate)
		b.loaded = true
	}
	files := b.files
	b.mu.Unlock()

	if len(files) == 0 {
		return ""
	}
	sections := make([]string, 0, len(files))
	for _, f := range files {
		sections = append(sections, "## "+f.Path+"\n\n"+f.Content)
	}
	return strings.Join(sections, "\n\n")
}

// memoryContext prefers semantic retrieval when the backend supports it
// and a query is present. Failures degrade to the plain composition, then
// to an empty section.
func (b *ContextBuilder) memoryContext(ctx context.Context, query string) string {
	if b.memory == nil {
		return ""
	}
	if query != "" {
		if searcher, ok := b.memory.(memory.SemanticSearcher); ok {
			out, err := searcher.MemoryContextSemantic(ctx, query)
			if err == nil {
				return out
			}
			slog.Warn("semantic memory context failed", "error", err)
		}
	}
	out, err := b.memory.MemoryContext(ctx)
	if err != nil {
		slog.Warn("memory context failed", "error", err)
		return ""
	}
	return out
}
