package review

import (
	"fmt"
	"strings"

	"github.com/averen/scry"
	"github.com/averen/scry/diff"
)

const systemPromptHeader = `You are a strict, expert code reviewer. You are given a code diff and a set of tools for inspecting the repository the diff applies to.

Rules:
1. Only review the changes shown in the diff. Do not comment on unchanged code unless a change breaks it.
2. Focus on bugs, security issues, performance problems, and correctness. Avoid bikeshedding on style unless it impacts readability significantly.
3. Use the tools to read surrounding code before judging a change. Do not guess at context you can inspect.
4. For questions that need several tool calls of their own, delegate to a sub-investigator instead of doing them inline.
5. Keep your working plan current with the update_plan tool as your understanding evolves.
6. Be concise and actionable. Every finding must include a concrete suggestion and reference file paths and line numbers from the diff hunks.
7. Rate severity as "low", "medium", or "high" and categorize each finding as one of: bug, security, performance, correctness, style, maintainability, testing, docs.

When your investigation is complete, call submit_review exactly once with the full review as markdown. That call ends the session; text outside it is not the review.`

// Builder constructs the seed prompts for an analysis session.
type Builder struct {
	// MaxFindings caps the number of findings requested, 0 for no cap.
	MaxFindings int
	// FailOn asks the model to concentrate on findings at or above this
	// severity.
	FailOn string
	// MaxHunkLines truncates very large hunks in the rendered prompt,
	// 0 for no truncation. The model can read the full file with tools.
	MaxHunkLines int
}

// NewBuilder returns a Builder with no caps set.
func NewBuilder() *Builder { return &Builder{} }

// SystemPrompt describes the review task and enumerates the session's tools.
func (b *Builder) SystemPrompt(tools []scry.ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString(systemPromptHeader)
	if len(tools) > 0 {
		sb.WriteString("\n\nAvailable tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, firstSentence(t.Description))
		}
	}
	return sb.String()
}

// UserPrompt renders the parsed diff, per file and hunk, with an optional
// focus request from the caller.
func (b *Builder) UserPrompt(files []diff.FileDiff, focus string) string {
	var sb strings.Builder
	sb.WriteString("Review the following code diff.\n\n")

	if b.MaxFindings > 0 {
		fmt.Fprintf(&sb, "Return at most %d findings.\n", b.MaxFindings)
	}
	if b.FailOn != "" && b.FailOn != "none" {
		fmt.Fprintf(&sb, "Focus especially on findings with severity %s or above.\n", b.FailOn)
	}
	if focus != "" {
		fmt.Fprintf(&sb, "The requester asks you to focus on: %s\n", focus)
	}

	langs := detectLanguages(filePaths(files))
	if len(langs) > 0 {
		fmt.Fprintf(&sb, "Languages: %s\n", strings.Join(langs, ", "))
	}

	stats := diff.Summarize(files)
	fmt.Fprintf(&sb, "Changed: %d files, +%d/-%d lines.\n", stats.Files, stats.Added, stats.Deleted)

	sb.WriteString("\n--- BEGIN DIFF ---\n")
	for _, f := range files {
		fmt.Fprintf(&sb, "### %s (%s, +%d/-%d)\n", f.Path(), f.Kind, f.Added, f.Deleted)
		if f.Kind == diff.KindRenamed {
			fmt.Fprintf(&sb, "renamed from %s\n", f.OldPath)
		}
		for _, h := range f.Hunks {
			fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@ %s\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines, h.Section)
			body := b.hunkBody(h.Body)
			sb.WriteString(body)
			if !strings.HasSuffix(body, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	sb.WriteString("--- END DIFF ---\n")
	return sb.String()
}

// hunkBody returns the hunk content, truncated to MaxHunkLines with an
// explicit marker when a cap is set.
func (b *Builder) hunkBody(body string) string {
	if b.MaxHunkLines <= 0 {
		return body
	}
	lines := strings.Split(body, "\n")
	if len(lines) <= b.MaxHunkLines {
		return body
	}
	kept := lines[:b.MaxHunkLines]
	return strings.Join(kept, "\n") +
		fmt.Sprintf("\n[... %d more lines; use read_file to see the rest]\n", len(lines)-b.MaxHunkLines)
}

func filePaths(files []diff.FileDiff) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path())
	}
	return paths
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

func detectLanguages(files []string) []string {
	langMap := map[string]string{
		".go":    "Go",
		".py":    "Python",
		".js":    "JavaScript",
		".ts":    "TypeScript",
		".tsx":   "TypeScript/React",
		".jsx":   "JavaScript/React",
		".rs":    "Rust",
		".java":  "Java",
		".rb":    "Ruby",
		".cpp":   "C++",
		".c":     "C",
		".h":     "C/C++",
		".cs":    "C#",
		".php":   "PHP",
		".swift": "Swift",
		".kt":    "Kotlin",
		".sql":   "SQL",
		".sh":    "Shell",
		".yaml":  "YAML",
		".yml":   "YAML",
		".json":  "JSON",
		".tf":    "Terraform",
	}

	seen := make(map[string]bool)
	var langs []string
	for _, f := range files {
		for ext, lang := range langMap {
			if strings.HasSuffix(f, ext) && !seen[lang] {
				seen[lang] = true
				langs = append(langs, lang)
			}
		}
	}
	return langs
}

// compile-time check
var _ scry.PromptBuilder = (*Builder)(nil)
