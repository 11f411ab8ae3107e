package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/net/html"

	"git.home.luguber.info/inful/minderbuild/internal/bundler"
	"git.home.luguber.info/inful/minderbuild/internal/logfields"
)

// TemplatesStep compiles HTML templates into an AngularJS module that
// preloads them into $templateCache.
type TemplatesStep struct {
	name   string
	root   string
	cwd    string
	src    []string
	dest   string
	module string
}

func (s *TemplatesStep) Name() string { return s.name }

func (s *TemplatesStep) Run(ctx context.Context) error {
	dir := resolve(s.root, s.cwd)
	files, err := match(dir, s.src, doublestar.WithFilesOnly())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		slog.Warn("Templates step matched no files", logfields.Step(s.name), logfields.Path(dir))
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "angular.module(%s).run(['$templateCache', function($templateCache) {\n  'use strict';\n\n", bundler.JSQuote(s.module))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		// #nosec G304 - path matched from configured template globs
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		minified, err := MinifyHTML(data)
		if err != nil {
			return fmt.Errorf("minify %s: %w", rel, err)
		}
		lit, err := jsonString(string(minified))
		if err != nil {
			return err
		}
		fmt.Fprintf(&buf, "  $templateCache.put(%s,\n    %s\n  );\n\n", bundler.JSQuote(s.templateURL(rel)), lit)
	}
	buf.WriteString("}]);\n")

	if err := bundler.WriteFileAtomic(s.dest, 0o644, func(w io.Writer) error {
		_, werr := w.Write(buf.Bytes())
		return werr
	}); err != nil {
		return err
	}
	slog.Info("Compiled templates",
		logfields.Step(s.name),
		logfields.Count(len(files)),
		logfields.File(s.dest))
	return nil
}

// templateURL is the cache key: the configured cwd joined with the match.
func (s *TemplatesStep) templateURL(rel string) string {
	if s.cwd == "" || filepath.IsAbs(s.cwd) {
		return rel
	}
	return path.Join(filepath.ToSlash(s.cwd), rel)
}

func jsonString(s string) (string, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("encode template: %w", err)
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

var booleanAttrs = map[string]bool{
	"allowfullscreen": true, "async": true, "autofocus": true, "autoplay": true,
	"checked": true, "controls": true, "default": true, "defer": true,
	"disabled": true, "formnovalidate": true, "hidden": true, "ismap": true,
	"loop": true, "multiple": true, "muted": true, "novalidate": true,
	"open": true, "readonly": true, "required": true, "reversed": true,
	"selected": true,
}

var preserveWhitespace = map[string]bool{"pre": true, "textarea": true, "script": true, "style": true}

type attr struct{ key, val string }

// MinifyHTML removes comments, collapses whitespace runs to one space and
// reduces boolean attributes to their bare name. Content of pre, textarea,
// script and style is kept as written.
func MinifyHTML(src []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(src))
	var out bytes.Buffer
	preserve := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return bytes.TrimSpace(out.Bytes()), nil
		case html.CommentToken:
		case html.TextToken:
			if preserve > 0 {
				out.Write(z.Raw())
			} else {
				text := collapseSpace(z.Raw())
				if len(text) > 0 && text[0] == ' ' && bytes.HasSuffix(out.Bytes(), []byte{' '}) {
					text = text[1:]
				}
				out.Write(text)
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			// TagName and TagAttr rewrite the token buffer in place
			raw := append([]byte(nil), z.Raw()...)
			name, more := z.TagName()
			tag := string(name)
			var attrs []attr
			collapse := false
			for more {
				var k, v []byte
				k, v, more = z.TagAttr()
				attrs = append(attrs, attr{key: string(k), val: string(v)})
				if booleanAttrs[string(k)] {
					collapse = true
				}
			}
			if collapse {
				out.WriteString(renderTag(tag, attrs, tt == html.SelfClosingTagToken))
			} else {
				out.Write(collapseTag(raw))
			}
			if tt == html.StartTagToken && preserveWhitespace[tag] {
				preserve++
			}
		case html.EndTagToken:
			raw := append([]byte(nil), z.Raw()...)
			name, _ := z.TagName()
			if preserveWhitespace[string(name)] && preserve > 0 {
				preserve--
			}
			out.Write(collapseTag(raw))
		case html.DoctypeToken:
			out.Write(z.Raw())
		}
	}
}

var attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;")

func renderTag(name string, attrs []attr, selfClosing bool) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(name)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.key)
		if booleanAttrs[a.key] || a.val == "" {
			continue
		}
		b.WriteString(`="`)
		b.WriteString(attrEscaper.Replace(a.val))
		b.WriteByte('"')
	}
	if selfClosing {
		b.WriteByte('/')
	}
	b.WriteByte('>')
	return b.String()
}

func isHTMLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func collapseSpace(b []byte) []byte {
	out := make([]byte, 0, len(b))
	inSpace := false
	for _, c := range b {
		if isHTMLSpace(c) {
			if !inSpace {
				out = append(out, ' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		out = append(out, c)
	}
	return out
}

// collapseTag squeezes whitespace outside quoted attribute values and drops
// it before the closing bracket.
func collapseTag(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	var quote byte
	inSpace := false
	for _, c := range raw {
		if quote != 0 {
			out = append(out, c)
			if c == quote {
				quote = 0
			}
			continue
		}
		if isHTMLSpace(c) {
			inSpace = true
			continue
		}
		if inSpace && c != '>' && c != '=' && out[len(out)-1] != '=' {
			out = append(out, ' ')
		}
		inSpace = false
		if c == '"' || c == '\'' {
			quote = c
		}
		out = append(out, c)
	}
	return out
}
