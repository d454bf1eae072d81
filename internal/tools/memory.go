package tools

import (
	"context"
	"fmt"

	"github.com/engramhq/engram/internal/memory"
)

// defaultRecentDays is how far read_memory looks back when the model omits
// the days argument.
const defaultRecentDays = 7

// SaveMemoryTool appends a note to today's daily memory.
type SaveMemoryTool struct {
	memory memory.Backend
}

func NewSaveMemoryTool(backend memory.Backend) *SaveMemoryTool {
	return &SaveMemoryTool{memory: backend}
}

func (t *SaveMemoryTool) Name() string { return "save_memory" }

func (t *SaveMemoryTool) Description() string {
	return "Save important information to today's memory notes. " +
		"Use this to remember facts, preferences, decisions, or anything " +
		"worth recalling in future conversations. Each call appends to today's notes."
}

func (t *SaveMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The information to remember (markdown formatted)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *SaveMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}
	if err := t.memory.AppendToday(ctx, content); err != nil {
		return ErrorResult(fmt.Sprintf("Error saving memory: %v", err)).WithError(err)
	}
	return NewResult("Memory saved successfully.")
}

// UpdateLongTermMemoryTool replaces the entire long-term memory.
type UpdateLongTermMemoryTool struct {
	memory memory.Backend
}

func NewUpdateLongTermMemoryTool(backend memory.Backend) *UpdateLongTermMemoryTool {
	return &UpdateLongTermMemoryTool{memory: backend}
}

func (t *UpdateLongTermMemoryTool) Name() string { return "update_long_term_memory" }

func (t *UpdateLongTermMemoryTool) Description() string {
	return "Update the long-term memory with consolidated information. " +
		"This REPLACES the entire long-term memory content. " +
		"Use this to store persistent facts like user preferences, " +
		"important context, or summaries. Read current long-term memory first " +
		"before updating to avoid losing existing information."
}

func (t *UpdateLongTermMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The complete long-term memory content (markdown formatted)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *UpdateLongTermMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}
	if err := t.memory.WriteLongTerm(ctx, content); err != nil {
		return ErrorResult(fmt.Sprintf("Error updating long-term memory: %v", err)).WithError(err)
	}
	return NewResult("Long-term memory updated successfully.")
}

// ReadMemoryTool reads today's notes, long-term memory, or recent days.
type ReadMemoryTool struct {
	memory memory.Backend
}

func NewReadMemoryTool(backend memory.Backend) *ReadMemoryTool {
	return &ReadMemoryTool{memory: backend}
}

func (t *ReadMemoryTool) Name() string { return "read_memory" }

func (t *ReadMemoryTool) Description() string {
	return "Read memory contents. Can read today's notes, long-term memory, " +
		"or recent memories from the past N days."
}

func (t *ReadMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"scope": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"today", "long_term", "recent"},
				"description": "What to read: 'today' for today's notes, 'long_term' for persistent memory, 'recent' for last N days",
			},
			"days": map[string]interface{}{
				"type":        "integer",
				"description": "Number of days to look back (only used when scope='recent', default 7)",
			},
		},
		"required": []string{"scope"},
	}
}

func (t *ReadMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	scope, _ := args["scope"].(string)

	days := defaultRecentDays
	if d, ok := args["days"].(float64); ok && int(d) > 0 {
		days = int(d)
	}

	switch scope {
	case "today":
		content, err := t.memory.ReadToday(ctx)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Error reading memory: %v", err)).WithError(err)
		}
		if content == "" {
			return NewResult("(No notes for today)")
		}
		return NewResult(content)
	case "long_term":
		content, err := t.memory.ReadLongTerm(ctx)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Error reading memory: %v", err)).WithError(err)
		}
		if content == "" {
			return NewResult("(No long-term memory)")
		}
		return NewResult(content)
	case "recent":
		content, err := t.memory.RecentMemories(ctx, days)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Error reading memory: %v", err)).WithError(err)
		}
		if content == "" {
			return NewResult(fmt.Sprintf("(No memories in the last %d days)", days))
		}
		return NewResult(content)
	default:
		return ErrorResult(fmt.Sprintf("Error: unknown scope '%s', use 'today', 'long_term', or 'recent'", scope))
	}
}

// RegisterMemoryTools adds the three memory tools to a registry.
func RegisterMemoryTools(reg *Registry, backend memory.Backend) {
	reg.Register(NewSaveMemoryTool(backend))
	reg.Register(NewUpdateLongTermMemoryTool(backend))
	reg.Register(NewReadMemoryTool(backend))
}
