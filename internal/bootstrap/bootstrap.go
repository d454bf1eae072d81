// Package bootstrap manages the workspace markdown files injected into the
// agent's system prompt: seeding them from embedded templates on first run,
// loading them with truncation caps, and watching them for edits.
package bootstrap

import (
	"os"
	"path/filepath"
)

// Workspace bootstrap file names, loaded in this order.
const (
	AgentsFile   = "AGENTS.md"
	SoulFile     = "SOUL.md"
	UserFile     = "USER.md"
	ToolsFile    = "TOOLS.md"
	IdentityFile = "IDENTITY.md"
)

// Files lists the bootstrap files in prompt order.
var Files = []string{AgentsFile, SoulFile, UserFile, ToolsFile, IdentityFile}

// Truncation defaults. Bootstrap files are trusted prompt content but user
// editable, so a runaway file must not crowd out everything else.
const (
	DefaultMaxCharsPerFile = 20_000
	DefaultTotalMaxChars   = 60_000
)

// truncationNotice is appended where content was cut.
const truncationNotice = "\n\n[content truncated]"

// ContextFile is one loaded bootstrap file.
type ContextFile struct {
	Path    string // file name relative to the workspace, e.g. "SOUL.md"
	Content string
}

// TruncateConfig bounds how much bootstrap text reaches the prompt.
// Zero values select the defaults.
type TruncateConfig struct {
	MaxCharsPerFile int
	TotalMaxChars   int
}

func (c TruncateConfig) withDefaults() TruncateConfig {
	if c.MaxCharsPerFile <= 0 {
		c.MaxCharsPerFile = DefaultMaxCharsPerFile
	}
	if c.TotalMaxChars <= 0 {
		c.TotalMaxChars = DefaultTotalMaxChars
	}
	return c
}

// LoadWorkspaceFiles reads the bootstrap files present under dir, in prompt
// order. Missing files are skipped, as are files that fail to read.
func LoadWorkspaceFiles(dir string) []ContextFile {
	var files []ContextFile
	for _, name := range Files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		files = append(files, ContextFile{Path: name, Content: string(content)})
	}
	return files
}

// BuildContextFiles applies per-file and total truncation caps, preserving
// file order. Files past the total budget are dropped entirely.
func BuildContextFiles(files []ContextFile, cfg TruncateConfig) []ContextFile {
	cfg = cfg.withDefaults()

	out := make([]ContextFile, 0, len(files))
	remaining := cfg.TotalMaxChars
	for _, f := range files {
		if remaining <= 0 {
			break
		}
		allowed := cfg.MaxCharsPerFile
		if allowed > remaining {
			allowed = remaining
		}
		content := f.Content
		if len(content) > allowed {
			content = content[:allowed] + truncationNotice
		}
		remaining -= len(content)
		out = append(out, ContextFile{Path: f.Path, Content: content})
	}
	return out
}

// LoadContextFiles is the common load-then-truncate path.
func LoadContextFiles(dir string, cfg TruncateConfig) []ContextFile {
	return BuildContextFiles(LoadWorkspaceFiles(dir), cfg)
}
