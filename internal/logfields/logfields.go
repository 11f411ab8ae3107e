package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyModule     = "module"
	KeyEntry      = "entry"
	KeyPath       = "path"
	KeyFile       = "file"
	KeyCount      = "count"
	KeyStep       = "step"
	KeyOutcome    = "outcome"
	KeyDigest     = "digest"
	KeyName       = "name"
	KeyURL        = "url"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Module(name string) slog.Attr    { return slog.String(KeyModule, name) }
func Entry(name string) slog.Attr     { return slog.String(KeyEntry, name) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func File(f string) slog.Attr         { return slog.String(KeyFile, f) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Step(s string) slog.Attr         { return slog.String(KeyStep, s) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func Digest(d string) slog.Attr       { return slog.String(KeyDigest, d) }
func Name(n string) slog.Attr         { return slog.String(KeyName, n) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// Elapsed renders a duration under the duration_ms key.
func Elapsed(d time.Duration) slog.Attr {
	return DurationMS(float64(d.Microseconds()) / 1000)
}
