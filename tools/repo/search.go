package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/averen/scry"
)

const (
	defaultSearchResults = 100
	maxSearchFileBytes   = 1 << 20
)

// SearchPatternTool searches file contents with a regular expression.
type SearchPatternTool struct{}

func (t *SearchPatternTool) Name() string { return "search_pattern" }

func (t *SearchPatternTool) Description() string {
	return "Search file contents under the repository with a Go regular expression. " +
		"Returns path:line: text matches. Binary files and dot-directories are skipped."
}

func (t *SearchPatternTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Go regular expression to match against each line"},
			"dir": {"type": "string", "description": "Directory to search, relative to the repository root; defaults to the root"},
			"max_results": {"type": "integer", "minimum": 1, "maximum": 500, "description": "Cap on returned matches (default 100)"}
		},
		"required": ["pattern"]
	}`)
}

func (t *SearchPatternTool) Execute(ctx context.Context, args json.RawMessage, tc *scry.ToolContext) (scry.ToolResult, error) {
	var params struct {
		Pattern    string `json:"pattern"`
		Dir        string `json:"dir"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return scry.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Dir == "" {
		params.Dir = "."
	}
	if params.MaxResults <= 0 {
		params.MaxResults = defaultSearchResults
	}

	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return scry.ToolResult{Error: "invalid pattern: " + err.Error()}, nil
	}

	resolved, err := resolvePath(tc, params.Dir)
	if err != nil {
		return scry.ToolResult{Error: err.Error()}, nil
	}

	var sb strings.Builder
	matches := 0
	capped := false
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != resolved && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSearchFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || isBinary(data) {
			return nil
		}
		rel := relPath(resolved, path)
		for i, line := range strings.Split(string(data), "\n") {
			if !re.MatchString(line) {
				continue
			}
			fmt.Fprintf(&sb, "%s:%d: %s\n", rel, i+1, strings.TrimRight(line, "\r"))
			matches++
			if matches >= params.MaxResults {
				capped = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return scry.ToolResult{}, ctx.Err()
		}
		return scry.ToolResult{Error: "search error: " + walkErr.Error()}, nil
	}

	if matches == 0 {
		return scry.ToolResult{Content: "no matches"}, nil
	}
	if capped {
		fmt.Fprintf(&sb, "[results capped at %d; refine the pattern or dir]\n", params.MaxResults)
	}
	return scry.ToolResult{
		Content:  sb.String(),
		Metadata: map[string]string{"matches": fmt.Sprintf("%d", matches)},
	}, nil
}
