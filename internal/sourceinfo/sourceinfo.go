// Package sourceinfo derives build provenance from the source tree: the git
// commit the sources come from and a stable build date.
package sourceinfo

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"git.home.luguber.info/inful/minderbuild/internal/logfields"
)

// EnvSourceDateEpoch pins the build date for reproducible output.
const EnvSourceDateEpoch = "SOURCE_DATE_EPOCH"

// DateSource names where Info.Date came from.
type DateSource string

const (
	DateFromEnv    DateSource = "source_date_epoch"
	DateFromCommit DateSource = "git_head"
	DateFromClock  DateSource = "clock"
)

// Info describes the source snapshot being built.
type Info struct {
	Commit     string
	Branch     string
	Dirty      bool
	Date       time.Time
	DateSource DateSource
}

// ShortCommit returns the first eight characters of the commit hash.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 8 {
		return i.Commit[:8]
	}
	return i.Commit
}

// Resolver looks up provenance. Nil Getenv and Now fall back to the process
// environment and clock.
type Resolver struct {
	Getenv func(string) string
	Now    func() time.Time
}

// Lookup uses the process environment and clock.
func Lookup(dir string) Info {
	return Resolver{}.Lookup(dir)
}

// Lookup returns provenance for dir. Missing git metadata is not an error;
// the date falls back to SOURCE_DATE_EPOCH, then HEAD commit time, then the clock.
func (r Resolver) Lookup(dir string) Info {
	var info Info
	commitTime, err := r.readGit(dir, &info)
	if err != nil {
		slog.Debug("No git provenance for sources", logfields.Path(dir), logfields.Error(err))
	}

	if epoch, ok, perr := parseEpoch(r.getenv(EnvSourceDateEpoch)); perr != nil {
		slog.Warn("Ignoring invalid "+EnvSourceDateEpoch, logfields.Error(perr))
	} else if ok {
		info.Date, info.DateSource = epoch, DateFromEnv
		return info
	}
	if !commitTime.IsZero() {
		info.Date, info.DateSource = commitTime.UTC(), DateFromCommit
		return info
	}
	info.Date, info.DateSource = r.now().UTC(), DateFromClock
	return info
}

func (r Resolver) readGit(dir string, info *Info) (time.Time, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return time.Time{}, fmt.Errorf("open repository: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return time.Time{}, fmt.Errorf("read HEAD: %w", err)
	}
	info.Commit = ref.Hash().String()
	if ref.Name().IsBranch() {
		info.Branch = ref.Name().Short()
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return time.Time{}, fmt.Errorf("read HEAD commit: %w", err)
	}
	if wt, wtErr := repo.Worktree(); wtErr == nil {
		if status, stErr := wt.Status(); stErr == nil {
			info.Dirty = !status.IsClean()
		}
	}
	return commit.Committer.When, nil
}

func parseEpoch(v string) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", EnvSourceDateEpoch, err)
	}
	if secs < 0 {
		return time.Time{}, false, errors.New(EnvSourceDateEpoch + " must not be negative")
	}
	return time.Unix(secs, 0).UTC(), true, nil
}

func (r Resolver) getenv(k string) string {
	if r.Getenv == nil {
		return os.Getenv(k)
	}
	return r.Getenv(k)
}

func (r Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
