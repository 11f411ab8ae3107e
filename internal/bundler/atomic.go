package bundler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrWrite indicates the artifact could not be written or moved into place.
var ErrWrite = errors.New("artifact write failed")

// WriteError reports which step of the atomic replacement failed.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// TempPattern is the name pattern of the temporary sibling WriteFileAtomic
// creates while replacing path. It is usable with filepath.Match.
func TempPattern(path string) string {
	return "." + filepath.Base(path) + ".*.tmp"
}

// WriteFileAtomic streams content into a temporary file next to path and
// renames it over path only after every write, sync and close succeeded.
// Readers observe either the previous file or the complete new one.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
		return &WriteError{Path: path, Op: "mkdir", Err: mkErr}
	}
	tmp, err := os.CreateTemp(dir, TempPattern(path))
	if err != nil {
		return &WriteError{Path: path, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		return &WriteError{Path: path, Op: "write", Err: err}
	}
	if err = tmp.Sync(); err != nil {
		return &WriteError{Path: path, Op: "sync", Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &WriteError{Path: path, Op: "close", Err: err}
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return &WriteError{Path: path, Op: "chmod", Err: err}
	}
	if err = os.Rename(tmpName, path); err != nil {
		return &WriteError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

// WriteAtomic replaces path with the artifact bytes.
func WriteAtomic(path string, a *Artifact) error {
	return WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(a.Bytes)
		return err
	})
}
