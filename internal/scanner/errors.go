package scanner

import (
	"errors"
	"fmt"
)

var (
	// ErrParse indicates a malformed declaration statement in a source file.
	ErrParse = errors.New("malformed module declaration")

	// ErrDuplicateModule indicates two source files publish the same module name.
	ErrDuplicateModule = errors.New("duplicate module name")

	// ErrNoSources indicates the include patterns matched no files.
	ErrNoSources = errors.New("no source files matched")
)

// ParseError describes a declaration that cannot be interpreted statically.
type ParseError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// DuplicateModuleNameError names both files claiming Name.
type DuplicateModuleNameError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateModuleNameError) Error() string {
	return fmt.Sprintf("module %q is published by both %s and %s", e.Name, e.First, e.Second)
}

func (e *DuplicateModuleNameError) Is(target error) bool { return target == ErrDuplicateModule }
