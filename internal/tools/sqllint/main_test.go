package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLintFlagsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QOne = `--sql 11111111-2222-3333-4444-555555555555\nselect 1;`\n\nconst QTwo = `select 2;`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QThree = `--sql 11111111-2222-3333-4444-555555555555\nupdate jobs set progress = 1;`\n\nconst Label = \"pending\"\n")
	writeGo(t, dir, "b_test.go", "package q\n\nconst QIgnored = `select 3;`\n")

	l := newLinter()
	if err := l.lintPath(dir); err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(l.violations) != 2 {
		t.Fatalf("expected 2 violations, got %v", l.violations)
	}
	var missing, duplicate bool
	for _, v := range l.violations {
		switch {
		case v.name == "QTwo" && strings.Contains(v.message, "missing"):
			missing = true
		case v.name == "QThree" && strings.Contains(v.message, "QOne"):
			duplicate = true
		}
	}
	if !missing || !duplicate {
		t.Fatalf("unexpected violations %v", l.violations)
	}
}

func TestLintAcceptsRepositoryQueries(t *testing.T) {
	l := newLinter()
	if err := l.lintPath(filepath.Join("..", "..", "sqlinline")); err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(l.violations) != 0 {
		t.Fatalf("repository queries have marker problems: %v", l.violations)
	}
}
