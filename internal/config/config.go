// Package config loads minderbuild.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when -c is not given.
const DefaultPath = "minderbuild.yaml"

// Config is the root of minderbuild.yaml.
type Config struct {
	// Project is the package.json supplying banner metadata.
	Project    string        `yaml:"project"`
	Source     SourceConfig  `yaml:"source"`
	Bundle     BundleConfig  `yaml:"bundle"`
	Downstream []StepConfig  `yaml:"downstream,omitempty"`
	Report     ReportConfig  `yaml:"report"`
	History    HistoryConfig `yaml:"history"`
	Notify     NotifyConfig  `yaml:"notify"`
	Watch      WatchConfig   `yaml:"watch,omitempty"`
	Logging    LoggingConfig `yaml:"logging,omitempty"`

	// dir is the directory of the loaded file; relative paths resolve against it.
	dir string
}

// SourceConfig selects the module sources.
type SourceConfig struct {
	Base    string   `yaml:"base"`
	Entry   string   `yaml:"entry"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// BundleConfig shapes the artifact.
type BundleConfig struct {
	Output string `yaml:"output"`
	// Banner is a pointer so an omitted key defaults to true.
	Banner  *bool    `yaml:"banner,omitempty"`
	Global  string   `yaml:"global,omitempty"`
	Prelude []string `yaml:"prelude,omitempty"`
	Append  []string `yaml:"append,omitempty"`
}

// BannerEnabled reports whether the license banner is emitted.
func (b BundleConfig) BannerEnabled() bool { return b.Banner == nil || *b.Banner }

// StepType enumerates downstream step kinds.
type StepType string

const (
	StepTemplates StepType = "templates"
	StepCopy      StepType = "copy"
	StepClean     StepType = "clean"
	StepCommand   StepType = "command"
)

// StepPhase says whether a step runs before or after bundling.
type StepPhase string

const (
	// PhasePre steps run before scanning and may generate sources or bundle fragments.
	PhasePre StepPhase = "pre"
	// PhasePost steps package the written artifact.
	PhasePost StepPhase = "post"
)

// StepConfig is one downstream packaging step. Fields apply per type:
// templates uses Cwd, Src, Dest, Module; copy uses Cwd, Src, Dest; clean uses
// Src; command uses Command, Args, Cwd, Timeout.
type StepConfig struct {
	Name    string    `yaml:"name,omitempty"`
	Type    StepType  `yaml:"type"`
	Phase   StepPhase `yaml:"phase,omitempty"`
	Cwd     string    `yaml:"cwd,omitempty"`
	Src     []string  `yaml:"src,omitempty"`
	Dest    string    `yaml:"dest,omitempty"`
	Module  string    `yaml:"module,omitempty"`
	Command string    `yaml:"command,omitempty"`
	Args    []string  `yaml:"args,omitempty"`
	Timeout string    `yaml:"timeout,omitempty"`
}

// Label names the step for logs and reports.
func (s StepConfig) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Type == StepCommand && s.Command != "" {
		return string(s.Type) + ":" + filepath.Base(s.Command)
	}
	return string(s.Type)
}

// Steps returns the downstream steps of one phase in configured order.
// Steps without a phase belong to PhasePost.
func (c *Config) Steps(phase StepPhase) []StepConfig {
	var out []StepConfig
	for _, s := range c.Downstream {
		p := s.Phase
		if p == "" {
			p = PhasePost
		}
		if p == phase {
			out = append(out, s)
		}
	}
	return out
}

// ReportConfig controls where build reports are persisted.
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// HistoryConfig enables the SQLite build history when Path is set.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// NotifyConfig enables NATS build events when NATSURL is set.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject"`
}

// WatchConfig tunes watch mode.
type WatchConfig struct {
	Debounce string   `yaml:"debounce,omitempty"`
	Every    string   `yaml:"every,omitempty"`
	Paths    []string `yaml:"paths,omitempty"`
}

// LoggingConfig sets the default log level; -v and MINDERBUILD_LOG_LEVEL win.
type LoggingConfig struct {
	Level LogLevel `yaml:"level,omitempty"`
}

// Dir returns the directory the configuration was loaded from.
func (c *Config) Dir() string { return c.dir }

// Resolve makes p absolute relative to the configuration directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// ErrNotFound is returned when the configuration file does not exist.
var ErrNotFound = errors.New("configuration file not found")

// Load reads, expands, defaults and validates a configuration file.
// .env and .env.local next to the file are loaded first.
func Load(configPath string) (*Config, error) {
	dir := filepath.Dir(configPath)
	if err := loadEnvFiles(dir); err != nil {
		return nil, err
	}

	// #nosec G304 - config path is supplied by the operator
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	cfg.dir = abs
	return cfg, nil
}

// Parse decodes YAML content with ${ENV} expansion, then applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := NewDefaultApplier().ApplyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	cfg.dir = "."
	return &cfg, nil
}

// Default returns a defaulted configuration rooted at dir. It is not validated.
func Default(dir string) *Config {
	cfg := &Config{dir: dir}
	_ = NewDefaultApplier().ApplyDefaults(cfg)
	return cfg
}

var initComments = map[string]string{
	"project":    "package.json supplying the banner metadata",
	"source":     "Module sources and the entry whose closure is bundled",
	"bundle":     "Artifact path; append fragments land inside the closure after the modules",
	"downstream": "Steps with phase pre run before scanning, phase post after the artifact is written",
	"report":     "Build reports are written here after every build",
	"notify":     "Set notify.url to publish build events over NATS",
}

// Init writes a commented example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	banner := true
	example := Config{
		Project: "package.json",
		Source: SourceConfig{
			Base:    "src",
			Entry:   "expose-editor",
			Include: []string{"**/*.js"},
		},
		Bundle: BundleConfig{
			Output: "dist/kityminder.editor.js",
			Banner: &banner,
			Append: []string{
				"ui/kityminder.app.js",
				".tmp/scripts/templates.annotated.js",
				"ui/service/*.js",
				"ui/filter/*.js",
				"ui/dialog/**/*.js",
				"ui/directive/**/*.js",
			},
		},
		Downstream: []StepConfig{
			{Name: "templates", Type: StepTemplates, Phase: PhasePre, Cwd: "ui", Src: []string{"directive/**/*.html", "dialog/**/*.html"}, Dest: ".tmp/scripts/templates.js", Module: "kityminderEditor"},
			{Name: "annotate", Type: StepCommand, Phase: PhasePre, Command: "ng-annotate", Args: []string{"-a", ".tmp/scripts/templates.js", "-o", ".tmp/scripts/templates.annotated.js"}, Timeout: "1m"},
			{Name: "minify", Type: StepCommand, Phase: PhasePost, Command: "uglifyjs", Args: []string{"dist/kityminder.editor.js", "-o", "dist/kityminder.editor.min.js"}, Timeout: "2m"},
			{Name: "styles", Type: StepCommand, Phase: PhasePost, Command: "lessc", Args: []string{"less/editor.less", "dist/kityminder.editor.css"}, Timeout: "1m"},
			{Name: "assets", Type: StepCopy, Phase: PhasePost, Cwd: "ui", Src: []string{"images/*"}, Dest: "dist"},
			{Name: "tidy", Type: StepClean, Phase: PhasePost, Src: []string{".tmp"}},
		},
		Report: ReportConfig{Dir: DefaultReportDir},
		Notify: NotifyConfig{Subject: DefaultNotifySubject},
	}

	var doc yaml.Node
	if err := doc.Encode(&example); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	doc.HeadComment = "minderbuild configuration"
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if c, ok := initComments[doc.Content[i].Value]; ok {
			doc.Content[i].HeadComment = c
		}
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
