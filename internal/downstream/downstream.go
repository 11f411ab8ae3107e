// Package downstream runs the packaging steps that follow a successful bundle.
// Steps communicate with the bundler only through the file system.
package downstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"git.home.luguber.info/inful/minderbuild/internal/config"
	"git.home.luguber.info/inful/minderbuild/internal/logfields"
)

// ErrStep marks a downstream step failure.
var ErrStep = errors.New("downstream step failed")

// StepError names the failing step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("downstream step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }
func (e *StepError) Is(target error) bool {
	return target == ErrStep
}

// Step is one executable packaging action.
type Step interface {
	Name() string
	Run(ctx context.Context) error
}

// StepResult records a completed step.
type StepResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// Runner executes steps in order and stops at the first failure.
type Runner struct {
	steps []Step
}

// NewRunner builds steps from configuration. Relative paths resolve against root.
func NewRunner(root string, cfgs []config.StepConfig) (*Runner, error) {
	r := &Runner{}
	for i, c := range cfgs {
		step, err := newStep(root, c)
		if err != nil {
			return nil, fmt.Errorf("downstream[%d] %s: %w", i, c.Label(), err)
		}
		r.steps = append(r.steps, step)
	}
	return r, nil
}

// Len returns the number of configured steps.
func (r *Runner) Len() int { return len(r.steps) }

// Run executes every step in order.
func (r *Runner) Run(ctx context.Context) ([]StepResult, error) {
	results := make([]StepResult, 0, len(r.steps))
	for i, s := range r.steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		t0 := time.Now()
		err := s.Run(ctx)
		dur := time.Since(t0)
		if err != nil {
			slog.Error("Downstream step failed",
				logfields.Step(s.Name()),
				logfields.Elapsed(dur),
				logfields.Error(err))
			return results, &StepError{Step: s.Name(), Err: err}
		}
		slog.Info("Downstream step completed",
			logfields.Step(s.Name()),
			slog.Int("index", i),
			logfields.Elapsed(dur))
		results = append(results, StepResult{Name: s.Name(), Duration: dur})
	}
	return results, nil
}

func newStep(root string, c config.StepConfig) (Step, error) {
	cwd := resolve(root, c.Cwd)
	switch c.Type {
	case config.StepTemplates:
		return &TemplatesStep{name: c.Label(), root: root, cwd: c.Cwd, src: c.Src, dest: resolve(root, c.Dest), module: c.Module}, nil
	case config.StepCopy:
		return &CopyStep{name: c.Label(), cwd: cwd, src: c.Src, dest: resolve(root, c.Dest)}, nil
	case config.StepClean:
		return &CleanStep{name: c.Label(), cwd: cwd, src: c.Src}, nil
	case config.StepCommand:
		timeout, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
		}
		return &CommandStep{name: c.Label(), command: c.Command, args: c.Args, dir: cwd, timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown step type %q", c.Type)
	}
}

func resolve(root, p string) string {
	if p == "" {
		return root
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// match expands globs relative to dir into sorted, de-duplicated slash paths.
func match(dir string, patterns []string, opts ...doublestar.GlobOption) ([]string, error) {
	fsys := os.DirFS(dir)
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		matches, err := doublestar.Glob(fsys, p, opts...)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}
