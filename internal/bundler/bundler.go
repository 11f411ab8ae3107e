// Package bundler concatenates resolved modules into the deployable artifact.
package bundler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"git.home.luguber.info/inful/minderbuild/internal/resolver"
)

// Envelope tokens wrapped around the concatenated modules.
const (
	ClosureOpen  = "(function () {\n"
	ClosureClose = "})();"
)

// Fragment is an extra source file emitted verbatim inside the closure.
type Fragment struct {
	Path   string
	Source []byte
}

// Options controls the envelope around the module sources.
type Options struct {
	// Banner enables the license/version comment.
	Banner bool
	// Project supplies banner metadata.
	Project *Project
	// Date is the build date shown in the banner.
	Date time.Time
	// Global, when set, also assigns the entry module to window.<Global>.
	Global string
	// Prelude fragments precede the modules; Append fragments follow them.
	Prelude []Fragment
	Append  []Fragment
}

// Artifact is the assembled bundle.
type Artifact struct {
	Bytes   []byte
	Modules []string
	Digest  string
}

// Bundler assembles artifacts.
type Bundler struct {
	opts Options
}

// New creates a Bundler.
func New(opts Options) *Bundler {
	return &Bundler{opts: opts}
}

// ExposeTrailer returns the statement publishing the entry module.
func ExposeTrailer(entry, global string) string {
	if global != "" {
		return fmt.Sprintf("\nwindow.%s = use(%s);\n", global, JSQuote(entry))
	}
	return fmt.Sprintf("\nuse(%s);\n", JSQuote(entry))
}

var jsQuoter = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\u2028", `\u2028`, "\u2029", `\u2029`)

// JSQuote returns s as a single-quoted JavaScript string literal.
func JSQuote(s string) string {
	return "'" + jsQuoter.Replace(s) + "'"
}

// Assemble builds banner + closure-open + prelude + modules + append + trailer + closure-close.
// Module sources are copied byte for byte.
func (b *Bundler) Assemble(order resolver.Order, entry string) (*Artifact, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("nothing to bundle for entry %q", entry)
	}
	if last := order[len(order)-1].Name; last != entry {
		return nil, fmt.Errorf("resolved order ends with %q, expected entry %q", last, entry)
	}

	var buf bytes.Buffer
	if b.opts.Banner {
		text, err := RenderBanner(b.opts.Project, b.opts.Date)
		if err != nil {
			return nil, err
		}
		buf.WriteString(text)
	}
	buf.WriteString(ClosureOpen)
	for _, f := range b.opts.Prelude {
		buf.Write(f.Source)
	}
	for _, m := range order {
		buf.Write(m.Source)
	}
	for _, f := range b.opts.Append {
		buf.Write(f.Source)
	}
	buf.WriteString(ExposeTrailer(entry, b.opts.Global))
	buf.WriteString(ClosureClose)

	sum := sha256.Sum256(buf.Bytes())
	return &Artifact{
		Bytes:   buf.Bytes(),
		Modules: order.Names(),
		Digest:  hex.EncodeToString(sum[:]),
	}, nil
}

// Write replaces path with the artifact atomically.
func (a *Artifact) Write(path string) error {
	return WriteAtomic(path, a)
}

// ErrMissingFragment is returned when a literal prelude or append path does not exist.
var ErrMissingFragment = errors.New("bundle fragment not found")

// LoadFragments reads files under base matching the globs. Patterns keep their
// configured order; matches of one pattern are ordered lexically and a file is
// emitted at its first match only. A pattern without glob syntax must match a file.
func LoadFragments(base string, patterns []string) ([]Fragment, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	fsys := os.DirFS(base)
	seen := make(map[string]struct{})
	var rels []string
	for _, p := range patterns {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		if len(matches) == 0 && !hasGlobMeta(p) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFragment, filepath.Join(base, filepath.FromSlash(p)))
		}
		sort.Strings(matches)
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				rels = append(rels, m)
			}
		}
	}
	out := make([]Fragment, 0, len(rels))
	for _, rel := range rels {
		p := filepath.Join(base, filepath.FromSlash(rel))
		// #nosec G304 - fragment paths come from configured globs
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}
		out = append(out, Fragment{Path: p, Source: data})
	}
	return out, nil
}

func hasGlobMeta(p string) bool { return strings.ContainsAny(p, "*?[{\\") }
