package scanner

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Declarations are the statements recognised in one source file.
type Declarations struct {
	// Name is the literal passed to define('name', ...); empty when anonymous.
	Name string
	// Requires holds required names in declaration order, resolved against the file's id.
	Requires []Require
}

// Require is one require('name') occurrence.
type Require struct {
	Raw  string
	Name string
	Line int
}

var (
	kwDefine  = []byte("define")
	kwRequire = []byte("require")
)

// Parse extracts declarations from src. id is the path-derived module id used
// to resolve relative requires; diagnostics use filePath.
func Parse(id, filePath string, src []byte) (Declarations, error) {
	var decl Declarations
	cleaned, code := codeMask(src)

	perr := func(off int, format string, args ...any) error {
		return &ParseError{Path: filePath, Line: lineAt(src, off), Reason: fmt.Sprintf(format, args...)}
	}

	defineLine := 0
	for _, call := range findCalls(cleaned, code, kwDefine) {
		lit, ok, next := readLiteral(cleaned, call.arg)
		if !ok {
			// define(function ...) / define([...], ...) publishes anonymously.
			continue
		}
		if lit == "" {
			return decl, perr(call.at, "define() publishes an empty module name")
		}
		if c := peek(cleaned, next); c != ',' && c != ')' {
			return decl, perr(call.at, "define() name must be a single string literal")
		}
		if decl.Name != "" {
			return decl, perr(call.at, "module already published as %q on line %d", decl.Name, defineLine)
		}
		decl.Name = norm.NFC.String(lit)
		defineLine = lineAt(src, call.at)
	}

	for _, call := range findCalls(cleaned, code, kwRequire) {
		lit, ok, next := readLiteral(cleaned, call.arg)
		if !ok {
			return decl, perr(call.at, "require() without a literal module name is not supported")
		}
		if peek(cleaned, next) != ')' {
			return decl, perr(call.at, "require(%q ...) must take exactly one string literal", lit)
		}
		name, err := ResolveName(id, lit)
		if err != nil {
			return decl, perr(call.at, "%v", err)
		}
		decl.Requires = append(decl.Requires, Require{Raw: lit, Name: name, Line: lineAt(src, call.at)})
	}
	return decl, nil
}

// ResolveName maps a required literal to a module name. Relative names are
// joined with the directory of fromID; others are taken verbatim.
func ResolveName(fromID, raw string) (string, error) {
	raw = norm.NFC.String(strings.TrimSpace(raw))
	if raw == "" {
		return "", fmt.Errorf("require() names an empty module")
	}
	if !strings.HasPrefix(raw, "./") && !strings.HasPrefix(raw, "../") {
		return raw, nil
	}
	joined := path.Join(path.Dir(fromID), strings.TrimSuffix(raw, ".js"))
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return "", fmt.Errorf("relative require %q escapes the source base", raw)
	}
	return joined, nil
}

type call struct {
	at  int // offset of the keyword
	arg int // offset just after the opening parenthesis
}

// findCalls locates `kw(` occurrences in code positions that are not member
// accesses (obj.kw) or parts of longer identifiers.
func findCalls(src []byte, code []bool, kw []byte) []call {
	var out []call
	for from := 0; ; {
		idx := bytes.Index(src[from:], kw)
		if idx < 0 {
			return out
		}
		at := from + idx
		from = at + len(kw)
		if !code[at] {
			continue
		}
		if at > 0 && (isIdentByte(src[at-1]) || precededByDot(src, at)) {
			continue
		}
		end := at + len(kw)
		if end < len(src) && isIdentByte(src[end]) {
			continue
		}
		j := skipSpace(src, end)
		if j < len(src) && src[j] == '(' && code[j] {
			out = append(out, call{at: at, arg: j + 1})
		}
	}
}

// readLiteral reads a string literal starting at the first non-space byte from off.
// Template literals with substitutions are not literal names.
func readLiteral(src []byte, off int) (string, bool, int) {
	i := skipSpace(src, off)
	if i >= len(src) {
		return "", false, i
	}
	q := src[i]
	if q != '\'' && q != '"' && q != '`' {
		return "", false, i
	}
	var sb strings.Builder
	for j := i + 1; j < len(src); j++ {
		c := src[j]
		switch {
		case c == '\\' && j+1 < len(src):
			j++
			sb.WriteByte(src[j])
		case c == q:
			return sb.String(), true, skipSpace(src, j+1)
		case c == '\n' && q != '`':
			return "", false, j
		case q == '`' && c == '$' && j+1 < len(src) && src[j+1] == '{':
			return "", false, j
		default:
			sb.WriteByte(c)
		}
	}
	return "", false, len(src)
}

func precededByDot(src []byte, at int) bool {
	for i := at - 1; i >= 0; i-- {
		if isSpace(src[i]) {
			continue
		}
		return src[i] == '.'
	}
	return false
}

func skipSpace(src []byte, i int) int {
	for i < len(src) && isSpace(src[i]) {
		i++
	}
	return i
}

func peek(src []byte, i int) byte {
	if i < len(src) {
		return src[i]
	}
	return 0
}

func lineAt(src []byte, off int) int {
	if off > len(src) {
		off = len(src)
	}
	return bytes.Count(src[:off], []byte{'\n'}) + 1
}
