package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/averen/scry"
)

// maxWholeFileBytes is the largest file read_file returns without an
// explicit line range. Bigger files get a failure telling the model to
// request a range, not a silently truncated body.
const maxWholeFileBytes = 128 * 1024

// ReadFileTool reads a file from the repository, optionally a line range.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the repository. Returns the content with line numbers. " +
		"For large files pass start_line and end_line to read a range."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path relative to the repository root"},
			"start_line": {"type": "integer", "minimum": 1, "description": "First line to return (1-based, inclusive)"},
			"end_line": {"type": "integer", "minimum": 1, "description": "Last line to return (inclusive)"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage, tc *scry.ToolContext) (scry.ToolResult, error) {
	var params struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return scry.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	resolved, err := resolvePath(tc, params.Path)
	if err != nil {
		return scry.ToolResult{Error: err.Error()}, nil
	}

	if params.StartLine == 0 && params.EndLine == 0 {
		if size := statSize(resolved); size > maxWholeFileBytes {
			return scry.ToolResult{Error: fmt.Sprintf(
				"%s is %d bytes; pass start_line and end_line to read it in ranges",
				params.Path, size)}, nil
		}
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return scry.ToolResult{Error: "read error: " + err.Error()}, nil
	}
	if isBinary(data) {
		return scry.ToolResult{Error: params.Path + " is a binary file"}, nil
	}

	lines := strings.Split(string(data), "\n")
	start, end := 1, len(lines)
	if params.StartLine > 0 {
		start = params.StartLine
	}
	if params.EndLine > 0 && params.EndLine < end {
		end = params.EndLine
	}
	if start > len(lines) {
		return scry.ToolResult{Error: fmt.Sprintf(
			"start_line %d is past the end of %s (%d lines)", start, params.Path, len(lines))}, nil
	}
	if end < start {
		return scry.ToolResult{Error: "end_line is before start_line"}, nil
	}

	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i, lines[i-1])
	}
	return scry.ToolResult{
		Content: sb.String(),
		Metadata: map[string]string{
			"path":        params.Path,
			"total_lines": fmt.Sprintf("%d", len(lines)),
		},
	}, nil
}
