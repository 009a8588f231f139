package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	statementPattern = regexp.MustCompile(`(?i)^(select|insert|update|delete|with|create|alter|drop)\b`)
	markerPattern    = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
}

type markerSite struct {
	file string
	name string
	line int
}

// linter accumulates violations across files so duplicate markers in
// different packages are caught.
type linter struct {
	found []violation
	seen  map[string]markerSite
}

func newLinter() *linter {
	return &linter{seen: make(map[string]markerSite)}
}

// lintFile inspects package-level string constants and variables. src is
// passed to go/parser; nil reads the file from disk.
func (l *linter) lintFile(path string, src any) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return err
	}
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || (gen.Tok != token.CONST && gen.Tok != token.VAR) {
			continue
		}
		for _, spec := range gen.Specs {
			vs := spec.(*ast.ValueSpec)
			for i, value := range vs.Values {
				bl, ok := value.(*ast.BasicLit)
				if !ok || bl.Kind != token.STRING {
					continue
				}
				raw, err := unquote(bl.Value)
				if err != nil {
					continue
				}
				name := "_"
				if i < len(vs.Names) {
					name = vs.Names[i].Name
				}
				l.check(path, name, fset.Position(bl.Pos()).Line, raw)
			}
		}
	}
	return nil
}

func (l *linter) check(path, name string, line int, raw string) {
	text := strings.TrimLeft(raw, "\n\r \t")
	first, rest := splitFirstLine(text)
	site := markerSite{file: path, name: name, line: line}

	if !strings.HasPrefix(first, "--sql") {
		if statementPattern.MatchString(text) {
			l.add(site, "missing --sql <uuid> marker")
		}
		return
	}
	if !markerPattern.MatchString(first) {
		l.add(site, fmt.Sprintf("malformed marker %q", first))
		return
	}
	if strings.TrimSpace(rest) == "" {
		l.add(site, "marker without statement")
		return
	}
	if prev, dup := l.seen[first]; dup {
		l.add(site, fmt.Sprintf("marker already used by %s in %s:%d", prev.name, prev.file, prev.line))
		return
	}
	l.seen[first] = site
}

func (l *linter) add(site markerSite, message string) {
	l.found = append(l.found, violation{file: site.file, name: site.name, line: site.line, message: message})
}

func (l *linter) violations() []violation {
	out := append([]violation(nil), l.found...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].file != out[j].file {
			return out[i].file < out[j].file
		}
		return out[i].line < out[j].line
	})
	return out
}

func splitFirstLine(s string) (string, string) {
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx]), s[idx+1:]
	}
	return strings.TrimSpace(s), ""
}

func unquote(v string) (string, error) {
	if len(v) >= 2 && v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}
