// Package diff parses unified diffs into the per-file structure the review
// engine reasons over.
package diff

import (
	"errors"
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// ErrEmpty is returned when the input contains no diff content.
var ErrEmpty = errors.New("diff: empty input")

// ChangeKind classifies what happened to a file.
type ChangeKind string

const (
	KindAdded    ChangeKind = "added"
	KindDeleted  ChangeKind = "deleted"
	KindModified ChangeKind = "modified"
	KindRenamed  ChangeKind = "renamed"
)

// Hunk is one contiguous changed region of a file.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	// Section is the enclosing declaration from the hunk header, when the
	// diff producer emitted one.
	Section string
	// Body is the hunk content with the leading +/-/space markers intact.
	Body string
}

// FileDiff is the parsed change set for a single file.
type FileDiff struct {
	OldPath string
	NewPath string
	Kind    ChangeKind
	Hunks   []Hunk
	Added   int
	Deleted int
}

// Path returns the file's post-change path, falling back to the old path for
// deletions.
func (f FileDiff) Path() string {
	if f.Kind == KindDeleted {
		return f.OldPath
	}
	return f.NewPath
}

// Stats is an aggregate over a parsed diff.
type Stats struct {
	Files   int
	Added   int
	Deleted int
}

// Summarize totals line counts across files.
func Summarize(files []FileDiff) Stats {
	s := Stats{Files: len(files)}
	for _, f := range files {
		s.Added += f.Added
		s.Deleted += f.Deleted
	}
	return s
}

// Parser parses unified diff text. The zero value is ready to use.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser { return &Parser{} }

// Parse parses a multi-file unified diff. Empty input and unparseable input
// are both errors: a review session cannot start without hunks to look at.
func (p *Parser) Parse(text string) ([]FileDiff, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	parsed, err := godiff.ParseMultiFileDiff([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("diff: parse: %w", err)
	}
	if len(parsed) == 0 {
		return nil, ErrEmpty
	}

	files := make([]FileDiff, 0, len(parsed))
	for _, fd := range parsed {
		f := FileDiff{
			OldPath: stripPrefix(fd.OrigName),
			NewPath: stripPrefix(fd.NewName),
		}
		f.Kind = classify(fd.OrigName, fd.NewName, f.OldPath, f.NewPath)
		for _, h := range fd.Hunks {
			body := string(h.Body)
			f.Hunks = append(f.Hunks, Hunk{
				OldStart: int(h.OrigStartLine),
				OldLines: int(h.OrigLines),
				NewStart: int(h.NewStartLine),
				NewLines: int(h.NewLines),
				Section:  h.Section,
				Body:     body,
			})
			add, del := countLines(body)
			f.Added += add
			f.Deleted += del
		}
		files = append(files, f)
	}
	return files, nil
}

// stripPrefix drops the conventional a/ and b/ path prefixes.
func stripPrefix(name string) string {
	if name == "/dev/null" {
		return ""
	}
	if len(name) > 2 && (name[:2] == "a/" || name[:2] == "b/") {
		return name[2:]
	}
	return name
}

func classify(origRaw, newRaw, oldPath, newPath string) ChangeKind {
	switch {
	case origRaw == "/dev/null":
		return KindAdded
	case newRaw == "/dev/null":
		return KindDeleted
	case oldPath != "" && newPath != "" && oldPath != newPath:
		return KindRenamed
	default:
		return KindModified
	}
}

// countLines counts added and deleted lines in a hunk body.
func countLines(body string) (added, deleted int) {
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '+':
			added++
		case '-':
			deleted++
		}
	}
	return added, deleted
}
