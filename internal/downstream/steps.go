package downstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"git.home.luguber.info/inful/minderbuild/internal/bundler"
	"git.home.luguber.info/inful/minderbuild/internal/logfields"
)

// CopyStep copies matched files from cwd into dest, keeping relative paths and modes.
type CopyStep struct {
	name string
	cwd  string
	src  []string
	dest string
}

func (s *CopyStep) Name() string { return s.name }

func (s *CopyStep) Run(ctx context.Context) error {
	files, err := match(s.cwd, s.src, doublestar.WithFilesOnly())
	if err != nil {
		return err
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		from := filepath.Join(s.cwd, filepath.FromSlash(rel))
		to := filepath.Join(s.dest, filepath.FromSlash(rel))
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	slog.Info("Copied files", logfields.Step(s.name), logfields.Count(len(files)), logfields.Path(s.dest))
	return nil
}

func copyFile(from, to string) error {
	info, err := os.Stat(from)
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}
	// #nosec G304 - source matched from configured globs
	in, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("open %s: %w", from, err)
	}
	defer func() { _ = in.Close() }()
	return bundler.WriteFileAtomic(to, info.Mode().Perm(), func(w io.Writer) error {
		_, cerr := io.Copy(w, in)
		return cerr
	})
}

// CleanStep removes matched files and directories under cwd.
type CleanStep struct {
	name string
	cwd  string
	src  []string
}

func (s *CleanStep) Name() string { return s.name }

func (s *CleanStep) Run(ctx context.Context) error {
	matches, err := match(s.cwd, s.src)
	if err != nil {
		return err
	}
	removed := 0
	// reverse order removes children before their parents
	for i := len(matches) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(s.cwd, filepath.FromSlash(matches[i]))
		if err := os.RemoveAll(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
		removed++
	}
	slog.Info("Cleaned paths", logfields.Step(s.name), logfields.Count(removed))
	return nil
}

// CommandStep runs an external tool such as uglifyjs or lessc.
type CommandStep struct {
	name    string
	command string
	args    []string
	dir     string
	timeout time.Duration
}

func (s *CommandStep) Name() string { return s.name }

func (s *CommandStep) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// #nosec G204 - command and args come from the build configuration
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Dir = s.dir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Info("Running downstream command",
		logfields.Step(s.name),
		slog.String("command", s.command),
		slog.Any("args", s.args),
		logfields.Path(s.dir))
	err := cmd.Run()
	logLines(s.name, "stdout", &stdout, slog.LevelDebug)
	logLines(s.name, "stderr", &stderr, slog.LevelWarn)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s", s.command, s.timeout)
		}
		return fmt.Errorf("%s failed: %w", s.command, err)
	}
	return nil
}

func logLines(step, stream string, r io.Reader, level slog.Level) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		slog.Log(context.Background(), level, sc.Text(), logfields.Step(step), slog.String("stream", stream))
	}
}
