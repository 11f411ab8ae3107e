package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("invalid configuration")

// ValidateConfig validates the complete configuration structure.
func ValidateConfig(cfg *Config) error {
	validator := newConfigurationValidator(cfg)
	if err := validator.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// configurationValidator coordinates validation across all configuration domains.
type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	if err := cv.validateSource(); err != nil {
		return err
	}
	if err := cv.validateBundle(); err != nil {
		return err
	}
	if err := cv.validateDownstream(); err != nil {
		return err
	}
	return cv.validateWatch()
}

func (cv *configurationValidator) validateSource() error {
	src := cv.config.Source
	if strings.TrimSpace(src.Entry) == "" {
		return errors.New("source.entry is required")
	}
	if strings.TrimSpace(src.Base) == "" {
		return errors.New("source.base is required")
	}
	if err := validatePatterns("source.include", src.Include); err != nil {
		return err
	}
	return validatePatterns("source.exclude", src.Exclude)
}

func (cv *configurationValidator) validateBundle() error {
	b := cv.config.Bundle
	if strings.HasSuffix(b.Output, "/") || filepath.Base(b.Output) == "." {
		return fmt.Errorf("bundle.output must name a file: %q", b.Output)
	}
	if within(b.Output, cv.config.Source.Base) {
		return fmt.Errorf("bundle.output %q must not be inside source.base %q", b.Output, cv.config.Source.Base)
	}
	if b.Global != "" && !isIdentifier(b.Global) {
		return fmt.Errorf("bundle.global must be a JavaScript identifier: %q", b.Global)
	}
	if err := validatePatterns("bundle.prelude", b.Prelude); err != nil {
		return err
	}
	return validatePatterns("bundle.append", b.Append)
}

func (cv *configurationValidator) validateDownstream() error {
	for i, step := range cv.config.Downstream {
		field := fmt.Sprintf("downstream[%d]", i)
		switch step.Type {
		case StepTemplates:
			if len(step.Src) == 0 || step.Dest == "" || step.Module == "" {
				return fmt.Errorf("%s: templates step requires src, dest and module", field)
			}
		case StepCopy:
			if len(step.Src) == 0 || step.Dest == "" {
				return fmt.Errorf("%s: copy step requires src and dest", field)
			}
		case StepClean:
			if len(step.Src) == 0 {
				return fmt.Errorf("%s: clean step requires src", field)
			}
		case StepCommand:
			if step.Command == "" {
				return fmt.Errorf("%s: command step requires command", field)
			}
			if _, err := time.ParseDuration(step.Timeout); err != nil {
				return fmt.Errorf("%s: invalid timeout %q: %w", field, step.Timeout, err)
			}
		default:
			return fmt.Errorf("%s: unknown step type %q (expected templates|copy|clean|command)", field, step.Type)
		}
		if step.Phase != PhasePre && step.Phase != PhasePost {
			return fmt.Errorf("%s: unknown phase %q (expected pre|post)", field, step.Phase)
		}
		if err := validatePatterns(field+".src", step.Src); err != nil {
			return err
		}
	}
	return nil
}

func (cv *configurationValidator) validateWatch() error {
	w := cv.config.Watch
	if d, err := time.ParseDuration(w.Debounce); err != nil || d < 0 {
		return fmt.Errorf("watch.debounce: invalid duration %q", w.Debounce)
	}
	if w.Every != "" {
		if d, err := time.ParseDuration(w.Every); err != nil || d <= 0 {
			return fmt.Errorf("watch.every: invalid duration %q", w.Every)
		}
	}
	return nil
}

func validatePatterns(field string, patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%s: invalid glob %q", field, p)
		}
	}
	return nil
}

// within reports whether p lies inside dir. Paths of different kinds
// (absolute and relative) are not compared.
func within(p, dir string) bool {
	if filepath.IsAbs(p) != filepath.IsAbs(dir) {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p))
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}
