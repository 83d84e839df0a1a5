package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/averen/scry"
)

// maxListEntries caps one listing. The cap is surfaced to the model so it
// can narrow the directory instead of assuming it saw everything.
const maxListEntries = 500

// ListFilesTool lists files under a repository directory.
type ListFilesTool struct{}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files under a repository directory. Directories end with a slash. " +
		"Set recursive to true to descend into subdirectories."
}

func (t *ListFilesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"dir": {"type": "string", "description": "Directory relative to the repository root; defaults to the root"},
			"recursive": {"type": "boolean", "description": "Descend into subdirectories"}
		}
	}`)
}

func (t *ListFilesTool) Execute(ctx context.Context, args json.RawMessage, tc *scry.ToolContext) (scry.ToolResult, error) {
	var params struct {
		Dir       string `json:"dir"`
		Recursive bool   `json:"recursive"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return scry.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Dir == "" {
		params.Dir = "."
	}

	resolved, err := resolvePath(tc, params.Dir)
	if err != nil {
		return scry.ToolResult{Error: err.Error()}, nil
	}

	var entries []string
	overflow := false
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == resolved {
			return nil
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			if !params.Recursive {
				entries = append(entries, relPath(resolved, path)+"/")
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= maxListEntries {
			overflow = true
			return filepath.SkipAll
		}
		entries = append(entries, relPath(resolved, path))
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return scry.ToolResult{}, ctx.Err()
		}
		return scry.ToolResult{Error: "list error: " + walkErr.Error()}, nil
	}
	if len(entries) == 0 {
		return scry.ToolResult{Content: "(empty directory)"}, nil
	}

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	if overflow {
		fmt.Fprintf(&sb, "[listing capped at %d entries; pass a narrower dir]\n", maxListEntries)
	}
	return scry.ToolResult{Content: sb.String()}, nil
}
