package depgraph

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryNotFound indicates the configured entry module was not scanned.
	ErrEntryNotFound = errors.New("entry module not found")

	// ErrMissingDependency indicates a reachable module requires an unknown name.
	ErrMissingDependency = errors.New("missing dependency")
)

// EntryNotFoundError names the entry that matched no module.
type EntryNotFoundError struct {
	Entry string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("entry module %q matches no scanned module", e.Entry)
}

func (e *EntryNotFoundError) Is(target error) bool { return target == ErrEntryNotFound }

// MissingDependencyError identifies the requiring module and the unresolved name.
type MissingDependencyError struct {
	Module  string
	Path    string
	Missing string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("module %q (%s) requires unknown module %q", e.Module, e.Path, e.Missing)
}

func (e *MissingDependencyError) Is(target error) bool { return target == ErrMissingDependency }
