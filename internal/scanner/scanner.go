// Package scanner reads module sources and extracts their declarations.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"git.home.luguber.info/inful/minderbuild/internal/logfields"
	"git.home.luguber.info/inful/minderbuild/internal/module"
)

// DefaultInclude selects every JavaScript file below the base directory.
var DefaultInclude = []string{"**/*.js"}

// Scanner turns a source tree into a module.Set.
type Scanner struct {
	fsys    fs.FS
	base    string
	include []string
	exclude []string
	logger  *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithExclude skips files matching any of the globs.
func WithExclude(patterns ...string) Option {
	return func(s *Scanner) { s.exclude = append(s.exclude, patterns...) }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a scanner over base using the include globs (DefaultInclude when empty).
func New(base string, include []string, opts ...Option) *Scanner {
	return NewFS(os.DirFS(base), base, include, opts...)
}

// NewFS creates a scanner over an arbitrary file system; base is only used in diagnostics.
func NewFS(fsys fs.FS, base string, include []string, opts ...Option) *Scanner {
	if len(include) == 0 {
		include = DefaultInclude
	}
	s := &Scanner{fsys: fsys, base: base, include: include, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Files returns the base-relative, slash separated paths selected by the
// include and exclude globs, sorted lexically.
func (s *Scanner) Files() ([]string, error) {
	seen := make(map[string]struct{})
	for _, pattern := range s.include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
		matches, err := doublestar.Glob(s.fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if s.excluded(m) {
				continue
			}
			seen[m] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Scan reads and parses every selected file. Any malformed declaration or
// duplicate name fails the whole scan.
func (s *Scanner) Scan(ctx context.Context) (*module.Set, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %v under %s", ErrNoSources, s.include, s.base)
	}

	set := module.NewSet()
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := s.scanFile(rel)
		if err != nil {
			return nil, err
		}
		if prev, ok := set.Add(m); !ok {
			return nil, &DuplicateModuleNameError{Name: m.Name, First: prev.Path, Second: m.Path}
		}
		s.logger.Debug("Module scanned",
			logfields.Module(m.Name),
			logfields.File(m.Path),
			slog.Int("requires", len(m.Requires)))
	}
	s.logger.Info("Sources scanned", logfields.Path(s.base), logfields.Count(set.Len()))
	return set, nil
}

func (s *Scanner) scanFile(rel string) (*module.Module, error) {
	display := filepath.Join(s.base, filepath.FromSlash(rel))
	src, err := fs.ReadFile(s.fsys, rel)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", display, err)
	}
	id := IDFromPath(rel)
	decl, err := Parse(id, display, src)
	if err != nil {
		return nil, err
	}
	m := &module.Module{
		Name:      id,
		ID:        id,
		Source:    src,
		Path:      display,
		Published: decl.Name != "",
		Requires:  make([]string, 0, len(decl.Requires)),
	}
	if m.Published {
		m.Name = decl.Name
	}
	for _, r := range decl.Requires {
		m.Requires = append(m.Requires, r.Name)
	}
	return m, nil
}

// IDFromPath derives a module id from a base-relative path: forward slashes,
// extension stripped, NFC normalised so ids match across file systems.
func IDFromPath(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	return norm.NFC.String(strings.TrimPrefix(rel, "./"))
}
