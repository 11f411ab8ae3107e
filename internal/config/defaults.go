package config

import (
	"fmt"

	"git.home.luguber.info/inful/minderbuild/internal/scanner"
)

// Default values.
const (
	DefaultProject       = "package.json"
	DefaultBase          = "src"
	DefaultOutput        = "dist/bundle.js"
	DefaultReportDir     = ".minderbuild"
	DefaultNotifySubject = "minderbuild.bundle.built"
	DefaultDebounce      = "300ms"
	DefaultStepTimeout   = "5m"
)

// ConfigDefaultApplier applies defaults for one configuration domain.
type ConfigDefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier applies defaults across all configuration domains.
type CompositeDefaultApplier struct {
	appliers []ConfigDefaultApplier
}

// NewDefaultApplier creates a composite default applier with all domain appliers.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []ConfigDefaultApplier{
			&SourceDefaultApplier{},
			&BundleDefaultApplier{},
			&DownstreamDefaultApplier{},
			&OutputsDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// SourceDefaultApplier handles project and source defaults.
type SourceDefaultApplier struct{}

func (s *SourceDefaultApplier) Domain() string { return "source" }

func (s *SourceDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Project == "" {
		cfg.Project = DefaultProject
	}
	if cfg.Source.Base == "" {
		cfg.Source.Base = DefaultBase
	}
	if len(cfg.Source.Include) == 0 {
		cfg.Source.Include = append([]string(nil), scanner.DefaultInclude...)
	}
	return nil
}

// BundleDefaultApplier handles bundle defaults.
type BundleDefaultApplier struct{}

func (b *BundleDefaultApplier) Domain() string { return "bundle" }

func (b *BundleDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Bundle.Output == "" {
		cfg.Bundle.Output = DefaultOutput
	}
	return nil
}

// DownstreamDefaultApplier canonicalizes step types and phases and fills timeouts.
type DownstreamDefaultApplier struct{}

func (d *DownstreamDefaultApplier) Domain() string { return "downstream" }

func (d *DownstreamDefaultApplier) ApplyDefaults(cfg *Config) error {
	for i := range cfg.Downstream {
		step := &cfg.Downstream[i]
		if t := NormalizeStepType(string(step.Type)); t != "" {
			step.Type = t
		}
		if p := NormalizeStepPhase(string(step.Phase)); p != "" {
			step.Phase = p
		}
		if step.Type == StepCommand && step.Timeout == "" {
			step.Timeout = DefaultStepTimeout
		}
	}
	return nil
}

// OutputsDefaultApplier handles report, notify, watch and logging defaults.
type OutputsDefaultApplier struct{}

func (o *OutputsDefaultApplier) Domain() string { return "outputs" }

func (o *OutputsDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Report.Dir == "" {
		cfg.Report.Dir = DefaultReportDir
	}
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = DefaultNotifySubject
	}
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = DefaultDebounce
	}
	if lvl := NormalizeLogLevel(string(cfg.Logging.Level)); lvl != "" {
		cfg.Logging.Level = lvl
	} else {
		cfg.Logging.Level = LogLevelInfo
	}
	return nil
}
