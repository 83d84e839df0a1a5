package diff

import (
	"errors"
	"testing"
)

const sampleDiff = `diff --git a/parser.go b/parser.go
--- a/parser.go
+++ b/parser.go
@@ -10,4 +10,5 @@ func Parse(input string) error {
 	if input == "" {
-		return nil
+		return ErrEmpty
 	}
+	input = strings.TrimSpace(input)
 	return run(input)
diff --git a/notes.txt b/notes.txt
--- /dev/null
+++ b/notes.txt
@@ -0,0 +1,2 @@
+first note
+second note
`

func TestParseModifiedAndAdded(t *testing.T) {
	files, err := NewParser().Parse(sampleDiff)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}

	mod := files[0]
	if mod.Path() != "parser.go" || mod.Kind != KindModified {
		t.Errorf("files[0] = %s (%s)", mod.Path(), mod.Kind)
	}
	if len(mod.Hunks) != 1 {
		t.Fatalf("len(Hunks) = %d, want 1", len(mod.Hunks))
	}
	h := mod.Hunks[0]
	if h.OldStart != 10 || h.NewStart != 10 {
		t.Errorf("hunk starts = %d/%d, want 10/10", h.OldStart, h.NewStart)
	}
	if h.Section != "func Parse(input string) error {" {
		t.Errorf("Section = %q", h.Section)
	}
	if mod.Added != 2 || mod.Deleted != 1 {
		t.Errorf("counts = +%d/-%d, want +2/-1", mod.Added, mod.Deleted)
	}

	added := files[1]
	if added.Kind != KindAdded || added.Path() != "notes.txt" {
		t.Errorf("files[1] = %s (%s)", added.Path(), added.Kind)
	}
	if added.OldPath != "" {
		t.Errorf("OldPath = %q for an added file", added.OldPath)
	}
	if added.Added != 2 || added.Deleted != 0 {
		t.Errorf("counts = +%d/-%d, want +2/-0", added.Added, added.Deleted)
	}
}

func TestParseDeleted(t *testing.T) {
	text := `diff --git a/old.go b/old.go
--- a/old.go
+++ /dev/null
@@ -1,2 +0,0 @@
-package old
-var gone = true
`
	files, err := NewParser().Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	f := files[0]
	if f.Kind != KindDeleted {
		t.Errorf("Kind = %s, want deleted", f.Kind)
	}
	if f.Path() != "old.go" {
		t.Errorf("Path() = %q, deletions should fall back to the old path", f.Path())
	}
}

func TestParseRenamed(t *testing.T) {
	text := `diff --git a/old_name.go b/new_name.go
--- a/old_name.go
+++ b/new_name.go
@@ -1,1 +1,1 @@
-package a
+package b
`
	files, err := NewParser().Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	if files[0].Kind != KindRenamed {
		t.Errorf("Kind = %s, want renamed", files[0].Kind)
	}
	if files[0].Path() != "new_name.go" {
		t.Errorf("Path() = %q", files[0].Path())
	}
}

func TestParseEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   \n\t"} {
		if _, err := NewParser().Parse(in); !errors.Is(err, ErrEmpty) {
			t.Errorf("Parse(%q) err = %v, want ErrEmpty", in, err)
		}
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := NewParser().Parse("this is not a diff at all"); err == nil {
		t.Error("expected an error for non-diff input")
	}
}

func TestSummarize(t *testing.T) {
	files := []FileDiff{
		{Added: 3, Deleted: 1},
		{Added: 0, Deleted: 7},
	}
	s := Summarize(files)
	if s.Files != 2 || s.Added != 3 || s.Deleted != 8 {
		t.Errorf("Summarize = %+v", s)
	}
}
