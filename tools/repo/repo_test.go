package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/averen/scry"
)

// newRepo builds a small repository fixture on disk.
func newRepo(t *testing.T) (*scry.ToolContext, string) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":            "package main\n\nfunc main() {\n\trun()\n}\n",
		"parse/parser.go":    "package parse\n\nfunc Parse(input string) error {\n\treturn nil\n}\n\ntype Result struct{}\n",
		"parse/parser_test.go": "package parse\n\nfunc TestParse(t *testing.T) {}\n",
		"docs/notes.md":      "# Notes\n\nParse is the entry point.\n",
		".git/config":        "[core]\n",
	}
	for path, content := range files {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// A binary blob that every tool must skip or refuse.
	if err := os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0x7f, 0x00, 0x01, 0x02}, 0o644); err != nil {
		t.Fatal(err)
	}
	return &scry.ToolContext{RepoRoot: root}, root
}

func run(t *testing.T, tool scry.Tool, tc *scry.ToolContext, args string) scry.ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(args), tc)
	if err != nil {
		t.Fatalf("%s returned a fault: %v", tool.Name(), err)
	}
	return res
}

func TestToolsRoster(t *testing.T) {
	names := make(map[string]bool)
	for _, tool := range Tools() {
		names[tool.Name()] = true
		if tool.Description() == "" || len(tool.Schema()) == 0 {
			t.Errorf("%s missing description or schema", tool.Name())
		}
	}
	for _, want := range []string{"read_file", "list_files", "search_pattern", "find_symbol"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestResolvePathRejectsEscapes(t *testing.T) {
	tc, root := newRepo(t)

	for _, path := range []string{
		"../outside.txt",
		"../../etc/passwd",
		"parse/../../outside",
		filepath.Join(root, "..", "abs"),
	} {
		if _, err := resolvePath(tc, path); err == nil {
			t.Errorf("resolvePath(%q) succeeded, want rejection", path)
		}
	}
	if _, err := resolvePath(tc, "/etc/passwd"); err == nil {
		t.Error("absolute path accepted")
	}
	if _, err := resolvePath(&scry.ToolContext{}, "main.go"); err == nil {
		t.Error("missing repo root accepted")
	}

	// Legitimate paths resolve, including ones with internal dots.
	for _, path := range []string{"main.go", "parse/parser.go", "parse/../main.go", "."} {
		if _, err := resolvePath(tc, path); err != nil {
			t.Errorf("resolvePath(%q) = %v, want success", path, err)
		}
	}
}

func TestReadFileWholeAndRange(t *testing.T) {
	tc, _ := newRepo(t)
	tool := &ReadFileTool{}

	res := run(t, tool, tc, `{"path":"parse/parser.go"}`)
	if res.Error != "" {
		t.Fatalf("Error = %q", res.Error)
	}
	if !strings.Contains(res.Content, "     3\tfunc Parse(input string) error {") {
		t.Errorf("content not line-numbered:\n%s", res.Content)
	}
	if res.Metadata["path"] != "parse/parser.go" {
		t.Errorf("Metadata = %v", res.Metadata)
	}

	ranged := run(t, tool, tc, `{"path":"parse/parser.go","start_line":3,"end_line":4}`)
	if strings.Contains(ranged.Content, "package parse") {
		t.Errorf("range read leaked lines before start_line:\n%s", ranged.Content)
	}
	if !strings.Contains(ranged.Content, "func Parse") {
		t.Errorf("range read missing requested lines:\n%s", ranged.Content)
	}
}

func TestReadFileErrorsAsData(t *testing.T) {
	tc, _ := newRepo(t)
	tool := &ReadFileTool{}

	for name, args := range map[string]string{
		"missing file":    `{"path":"nope.go"}`,
		"binary file":     `{"path":"blob.bin"}`,
		"traversal":       `{"path":"../secret"}`,
		"start past end":  `{"path":"main.go","start_line":999}`,
		"inverted range":  `{"path":"main.go","start_line":4,"end_line":2}`,
	} {
		res := run(t, tool, tc, args)
		if res.Error == "" {
			t.Errorf("%s: want an error-as-data result, got content %q", name, res.Content)
		}
	}
}

func TestReadFileOversizeNeedsRange(t *testing.T) {
	tc, root := newRepo(t)
	big := strings.Repeat("padding line\n", maxWholeFileBytes/13+1)
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := &ReadFileTool{}

	res := run(t, tool, tc, `{"path":"big.txt"}`)
	if !strings.Contains(res.Error, "start_line and end_line") {
		t.Errorf("Error = %q, want range guidance", res.Error)
	}

	// The same file reads fine with an explicit range.
	ranged := run(t, tool, tc, `{"path":"big.txt","start_line":1,"end_line":3}`)
	if ranged.Error != "" {
		t.Errorf("ranged read failed: %s", ranged.Error)
	}
}

func TestListFilesNonRecursive(t *testing.T) {
	tc, _ := newRepo(t)
	res := run(t, &ListFilesTool{}, tc, `{}`)
	if res.Error != "" {
		t.Fatalf("Error = %q", res.Error)
	}
	if !strings.Contains(res.Content, "main.go") || !strings.Contains(res.Content, "parse/") {
		t.Errorf("listing = %q", res.Content)
	}
	if strings.Contains(res.Content, "parser.go") {
		t.Errorf("non-recursive listing descended into subdirectories:\n%s", res.Content)
	}
	if strings.Contains(res.Content, ".git") {
		t.Errorf("dot-directory leaked into listing:\n%s", res.Content)
	}
}

func TestListFilesRecursive(t *testing.T) {
	tc, _ := newRepo(t)
	res := run(t, &ListFilesTool{}, tc, `{"recursive":true}`)
	for _, want := range []string{"main.go", filepath.Join("parse", "parser.go"), filepath.Join("docs", "notes.md")} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("recursive listing missing %s:\n%s", want, res.Content)
		}
	}
	if strings.Contains(res.Content, ".git") {
		t.Errorf(".git leaked into recursive listing")
	}
}

func TestListFilesEmptyDir(t *testing.T) {
	tc, root := newRepo(t)
	if err := os.Mkdir(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	res := run(t, &ListFilesTool{}, tc, `{"dir":"empty"}`)
	if res.Content != "(empty directory)" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestSearchPattern(t *testing.T) {
	tc, _ := newRepo(t)
	res := run(t, &SearchPatternTool{}, tc, `{"pattern":"func Parse\\b"}`)
	if res.Error != "" {
		t.Fatalf("Error = %q", res.Error)
	}
	if !strings.Contains(res.Content, filepath.Join("parse", "parser.go")+":3:") {
		t.Errorf("matches = %q", res.Content)
	}
	if res.Metadata["matches"] != "1" {
		t.Errorf("Metadata = %v", res.Metadata)
	}
}

func TestSearchPatternNoMatches(t *testing.T) {
	tc, _ := newRepo(t)
	res := run(t, &SearchPatternTool{}, tc, `{"pattern":"definitely_not_present_anywhere"}`)
	if res.Content != "no matches" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestSearchPatternInvalidRegexp(t *testing.T) {
	tc, _ := newRepo(t)
	res := run(t, &SearchPatternTool{}, tc, `{"pattern":"("}`)
	if !strings.Contains(res.Error, "invalid pattern") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestSearchPatternCapsResults(t *testing.T) {
	tc, root := newRepo(t)
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "needle %d\n", i)
	}
	if err := os.WriteFile(filepath.Join(root, "haystack.txt"), []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	res := run(t, &SearchPatternTool{}, tc, `{"pattern":"needle","max_results":5}`)
	if res.Metadata["matches"] != "5" {
		t.Errorf("Metadata = %v", res.Metadata)
	}
	if !strings.Contains(res.Content, "[results capped at 5") {
		t.Errorf("cap marker missing:\n%s", res.Content)
	}
}

func TestFindSymbol(t *testing.T) {
	tc, _ := newRepo(t)
	tool := &FindSymbolTool{}

	res := run(t, tool, tc, `{"name":"Parse"}`)
	if res.Error != "" {
		t.Fatalf("Error = %q", res.Error)
	}
	if !strings.Contains(res.Content, filepath.Join("parse", "parser.go")+":3:") {
		t.Errorf("matches = %q", res.Content)
	}
	// The prose mention in docs/notes.md is not a declaration.
	if strings.Contains(res.Content, "notes.md") {
		t.Errorf("non-declaration matched:\n%s", res.Content)
	}

	typeRes := run(t, tool, tc, `{"name":"Result"}`)
	if !strings.Contains(typeRes.Content, "type Result struct{}") {
		t.Errorf("type declaration missed:\n%s", typeRes.Content)
	}
}

func TestFindSymbolNotFound(t *testing.T) {
	tc, _ := newRepo(t)
	res := run(t, &FindSymbolTool{}, tc, `{"name":"Ghost"}`)
	if !strings.Contains(res.Content, "search_pattern") {
		t.Errorf("Content = %q, want a pointer to search_pattern", res.Content)
	}
}

func TestListFilesCancellation(t *testing.T) {
	tc, _ := newRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&ListFilesTool{}).Execute(ctx, json.RawMessage(`{}`), tc)
	if err == nil {
		t.Fatal("cancelled walk must surface as a fault")
	}
}
