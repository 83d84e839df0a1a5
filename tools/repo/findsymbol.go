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

const maxSymbolResults = 50

// FindSymbolTool locates likely declaration sites of a named symbol.
// It is a heuristic text search over common declaration forms, not a
// compiler-backed index, and says so in its output when nothing is found.
type FindSymbolTool struct{}

func (t *FindSymbolTool) Name() string { return "find_symbol" }

func (t *FindSymbolTool) Description() string {
	return "Find where a function, type, class, or constant named symbol is declared. " +
		"Returns path:line: declaration matches across common languages."
}

func (t *FindSymbolTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1, "description": "Exact symbol name to locate"},
			"dir": {"type": "string", "description": "Directory to search, relative to the repository root; defaults to the root"}
		},
		"required": ["name"]
	}`)
}

// declPattern builds a regexp matching declaration forms of name across the
// languages the reviewer commonly meets.
func declPattern(name string) *regexp.Regexp {
	q := regexp.QuoteMeta(name)
	forms := []string{
		`func(\s+\([^)]*\))?\s+` + q + `\b`,           // Go func / method
		`(type|var|const)\s+` + q + `\b`,              // Go declarations
		`(def|class)\s+` + q + `\b`,                   // Python, Ruby
		`(function|interface|enum|struct)\s+` + q + `\b`, // JS/TS, C-family
		`(let|const|var)\s+` + q + `\s*=`,             // JS/TS bindings
		`(fn|impl|trait|mod)\s+` + q + `\b`,           // Rust
	}
	return regexp.MustCompile(`(?:` + strings.Join(forms, `|`) + `)`)
}

func (t *FindSymbolTool) Execute(ctx context.Context, args json.RawMessage, tc *scry.ToolContext) (scry.ToolResult, error) {
	var params struct {
		Name string `json:"name"`
		Dir  string `json:"dir"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return scry.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Name == "" {
		return scry.ToolResult{Error: "name is required"}, nil
	}
	if params.Dir == "" {
		params.Dir = "."
	}

	resolved, err := resolvePath(tc, params.Dir)
	if err != nil {
		return scry.ToolResult{Error: err.Error()}, nil
	}

	re := declPattern(params.Name)
	var sb strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
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
			fmt.Fprintf(&sb, "%s:%d: %s\n", rel, i+1, strings.TrimSpace(line))
			matches++
			if matches >= maxSymbolResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return scry.ToolResult{}, ctx.Err()
		}
		return scry.ToolResult{Error: "symbol search error: " + walkErr.Error()}, nil
	}

	if matches == 0 {
		return scry.ToolResult{Content: fmt.Sprintf(
			"no declaration of %q found; it may be defined elsewhere or generated. Try search_pattern for usages.",
			params.Name)}, nil
	}
	return scry.ToolResult{
		Content:  sb.String(),
		Metadata: map[string]string{"matches": fmt.Sprintf("%d", matches)},
	}, nil
}
