// Command sqllint checks that every SQL constant carries a unique
// "--sql <uuid>" marker. SQLRunner refuses unmarked queries at runtime and
// logs the marker with each statement, so a duplicate makes two queries
// indistinguishable in the logs.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	markerPattern     = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	pos     token.Position
	name    string
	message string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", v.pos.Filename, v.pos.Line, v.message, v.name)
}

type linter struct {
	fset       *token.FileSet
	seen       map[string]violation
	violations []violation
}

func newLinter() *linter {
	return &linter{fset: token.NewFileSet(), seen: map[string]violation{}}
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"internal/sqlinline"}
	}

	l := newLinter()
	for _, target := range targets {
		if err := l.lintPath(target); err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
	}
	if len(l.violations) == 0 {
		return
	}
	sort.Slice(l.violations, func(i, j int) bool {
		a, b := l.violations[i].pos, l.violations[j].pos
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
		return a.Line < b.Line
	})
	fmt.Fprintln(os.Stderr, "sqllint: SQL marker problems")
	for _, v := range l.violations {
		fmt.Fprintf(os.Stderr, "  %s\n", v)
	}
	os.Exit(1)
}

func (l *linter) lintPath(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if filepath.Ext(target) != ".go" {
			return nil
		}
		return l.lintFile(target)
	}
	return filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return l.lintFile(path)
	})
}

func (l *linter) lintFile(path string) error {
	file, err := parser.ParseFile(l.fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			name := "_"
			if i < len(vs.Names) && vs.Names[i] != nil {
				name = vs.Names[i].Name
			}
			l.check(l.fset.Position(bl.Pos()), name, firstLine(raw))
		}
		return true
	})
	return nil
}

func (l *linter) check(pos token.Position, name, marker string) {
	if !markerPattern.MatchString(marker) {
		l.violations = append(l.violations, violation{pos: pos, name: name, message: "missing or invalid --sql <uuid> marker"})
		return
	}
	if prev, dup := l.seen[marker]; dup {
		l.violations = append(l.violations, violation{
			pos:     pos,
			name:    name,
			message: fmt.Sprintf("marker already used by %s at %s:%d", prev.name, prev.pos.Filename, prev.pos.Line),
		})
		return
	}
	l.seen[marker] = violation{pos: pos, name: name}
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}
