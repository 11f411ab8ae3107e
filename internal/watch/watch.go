// Package watch rebuilds the bundle when sources change.
//
// File system events are debounced into build requests. A single worker
// executes builds; a request arriving while a build runs is remembered and
// executed exactly once afterwards, so two builds never overlap.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/minderbuild/internal/bundler"
	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/minderbuild/internal/logfields"
)

// DefaultDebounce is the quiet window applied when Options.Debounce is zero.
const DefaultDebounce = 300 * time.Millisecond

// BuildFunc runs one build. Errors are logged; watching continues.
type BuildFunc func(ctx context.Context, reason string) error

// Options configures a Watcher.
type Options struct {
	// Roots are watched recursively; directories created later are added.
	Roots []string
	// Files are watched through their parent directory; other entries of
	// that directory do not trigger builds. Missing files may appear later.
	Files []string
	// Ignore lists paths whose events never trigger a build (outputs, reports).
	// The temporary siblings written while atomically replacing them are ignored too.
	Ignore []string
	// Debounce is the quiet window after the last event before building.
	Debounce time.Duration
	// Every schedules a periodic full rebuild when positive.
	Every time.Duration
	Build BuildFunc
	// SkipInitial disables the build normally run when watching starts.
	SkipInitial bool
	Logger      *slog.Logger
}

// Watcher turns file changes into serialized builds.
type Watcher struct {
	opts    Options
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	ignore  []string
	files   map[string]struct{}
	request chan string
	// work has capacity one: a queued value is the pending flag.
	work chan string

	mu      sync.Mutex
	running bool
	builds  int
}

// New validates options and creates the underlying fsnotify watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Build == nil {
		return nil, ferrors.ValidationError("build function is required").Build()
	}
	if len(opts.Roots) == 0 && len(opts.Files) == 0 {
		return nil, ferrors.ValidationError("at least one path to watch is required").Build()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		opts:    opts,
		fsw:     fsw,
		logger:  opts.Logger,
		files:   make(map[string]struct{}, len(opts.Files)),
		request: make(chan string, 64),
		work:    make(chan string, 1),
	}
	for _, p := range opts.Ignore {
		if abs, err := filepath.Abs(p); err == nil {
			w.ignore = append(w.ignore, abs)
		}
	}
	for _, p := range opts.Files {
		if abs, err := filepath.Abs(p); err == nil {
			w.files[abs] = struct{}{}
		}
	}
	return w, nil
}

// Run watches until ctx is canceled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	for _, root := range w.opts.Roots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
	}
	if err := w.addFileDirs(); err != nil {
		return err
	}

	if w.opts.Every > 0 {
		s, err := w.schedule(w.opts.Every)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Shutdown(); err != nil {
				w.logger.Warn("Scheduler shutdown failed", logfields.Error(err))
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w.worker(ctx) }()
	go func() { defer wg.Done(); w.debounceLoop(ctx) }()

	w.logger.Info("Watching for changes",
		slog.Any("roots", w.opts.Roots),
		slog.Duration("debounce", w.opts.Debounce),
		slog.Duration("every", w.opts.Every))
	if !w.opts.SkipInitial {
		w.Trigger("startup")
	}

	w.eventLoop(ctx)
	wg.Wait()
	return nil
}

// Request asks for a debounced build.
func (w *Watcher) Request(reason string) {
	select {
	case w.request <- reason:
	default:
		// Enough requests are already queued to guarantee a build.
	}
}

// Trigger queues a build immediately. If one is already queued it is reused.
func (w *Watcher) Trigger(reason string) {
	select {
	case w.work <- reason:
	default:
	}
}

// Builds returns the number of builds started so far.
func (w *Watcher) Builds() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.builds
}

// Running reports whether a build is in progress.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || w.ignored(ev.Name) || !w.relevant(ev.Name) {
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && w.underRoot(ev.Name) {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", logfields.Path(ev.Name), logfields.Error(err))
			}
		}
	}
	w.logger.Debug("Change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
	w.Request("change:" + filepath.Base(ev.Name))
}

// debounceLoop forwards a build once no request arrived for the quiet window.
func (w *Watcher) debounceLoop(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	var (
		quietC <-chan time.Time
		reason string
		count  int
	)
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case r := <-w.request:
			reason = r
			count++
			timer.Reset(w.opts.Debounce)
			quietC = timer.C
		case <-quietC:
			quietC = nil
			w.logger.Debug("Debounce window elapsed", logfields.Count(count), slog.String("reason", reason))
			w.Trigger(reason)
			count = 0
		}
	}
}

func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-w.work:
			w.runBuild(ctx, reason)
		}
	}
}

func (w *Watcher) runBuild(ctx context.Context, reason string) {
	w.mu.Lock()
	w.running = true
	w.builds++
	n := w.builds
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	w.logger.Info("Rebuilding", slog.String("reason", reason), slog.Int("build", n))
	if err := w.opts.Build(ctx, reason); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Error("Rebuild failed; previous artifact kept", logfields.Error(err))
	}
}

func (w *Watcher) schedule(every time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(w.Trigger, "scheduled"),
		gocron.WithName("periodic-rebuild"),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create periodic rebuild job: %w", err)
	}
	s.Start()
	return s, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", p, err)
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(p) || (p != root && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// addFileDirs watches the parent directory of every watched file once.
func (w *Watcher) addFileDirs() error {
	added := make(map[string]struct{})
	for f := range w.files {
		dir := filepath.Dir(f)
		if _, ok := added[dir]; ok || w.underRoot(dir) {
			continue
		}
		added[dir] = struct{}{}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return nil
}

func (w *Watcher) ignored(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	for _, ig := range w.ignore {
		if within(abs, ig) {
			return true
		}
		if filepath.Dir(abs) == filepath.Dir(ig) {
			if ok, _ := filepath.Match(bundler.TempPattern(ig), filepath.Base(abs)); ok {
				return true
			}
		}
	}
	return false
}

// relevant reports whether p is below a root or is one of the watched files.
func (w *Watcher) relevant(p string) bool {
	if w.underRoot(p) {
		return true
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}

func (w *Watcher) underRoot(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	for _, r := range w.opts.Roots {
		if ra, err := filepath.Abs(r); err == nil && within(abs, ra) {
			return true
		}
	}
	return false
}

func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
