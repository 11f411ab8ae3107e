// Package commands implements the minderbuild CLI subcommands.
package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/minderbuild/internal/config"
	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/minderbuild/internal/history"
	"git.home.luguber.info/inful/minderbuild/internal/logfields"
	"git.home.luguber.info/inful/minderbuild/internal/notify"
)

// Global is shared state bound into every subcommand.
type Global struct {
	Logger *slog.Logger
	// Level is adjusted after the configuration is loaded.
	Level *slog.LevelVar
	// Out receives user-facing output.
	Out io.Writer
}

// NewGlobal returns a Global writing to stdout.
func NewGlobal() *Global {
	return &Global{Level: new(slog.LevelVar), Out: os.Stdout}
}

// CLI definition and global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"minderbuild.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Resolve module dependencies and write the bundle"`
	Graph   GraphCmd   `cmd:"" help:"Print the resolved dependency graph (order, tree, dot, mermaid, json)"`
	Watch   WatchCmd   `cmd:"" help:"Rebuild the bundle whenever sources change"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
	History HistoryCmd `cmd:"" help:"List recent builds from the history database"`
}

// AfterApply runs after flag parsing; sets up logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	if g.Level == nil {
		g.Level = new(slog.LevelVar)
	}
	g.Level.Set(resolveLevel(c.Verbose, os.Getenv(config.EnvLogLevel), ""))
	g.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: g.Level}))
	slog.SetDefault(g.Logger)
	return nil
}

// resolveLevel applies precedence: -v, then the environment, then the configuration.
func resolveLevel(verbose bool, env string, configured config.LogLevel) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	lvl := config.NormalizeLogLevel(env)
	if lvl == "" {
		lvl = configured
	}
	switch lvl {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig loads the configuration and re-evaluates the log level, since
// .env files next to the configuration may set it.
func (g *Global) loadConfig(root *CLI) (*config.Config, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ferrors.WrapError(err, ferrors.CategoryNotFound, "configuration file not found").
				WithContext("path", root.Config).
				Build()
		}
		if errors.Is(err, config.ErrInvalid) {
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid configuration").
				WithContext("path", root.Config).
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to load configuration").
			WithContext("path", root.Config).
			Build()
	}
	if g.Level != nil {
		g.Level.Set(resolveLevel(root.Verbose, os.Getenv(config.EnvLogLevel), cfg.Logging.Level))
	}
	return cfg, nil
}

func (g *Global) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *Global) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// openHistory opens the configured history database, or a no-op recorder.
func openHistory(cfg *config.Config, log *slog.Logger) (history.Recorder, func()) {
	if cfg.History.Path == "" {
		return history.Noop{}, func() {}
	}
	path := cfg.Resolve(cfg.History.Path)
	store, err := history.Open(path)
	if err != nil {
		log.Warn("Build history disabled", logfields.Path(path), logfields.Error(err))
		return history.Noop{}, func() {}
	}
	return store, func() { _ = store.Close() }
}

// openNotifier connects to NATS when configured. A broker that cannot be
// reached disables notifications rather than failing the build.
func openNotifier(cfg *config.Config, log *slog.Logger) notify.Publisher {
	if cfg.Notify.NATSURL == "" {
		return nil
	}
	pub, err := notify.ConnectNATS(cfg.Notify.NATSURL, cfg.Notify.Subject)
	if err != nil {
		log.Warn("Build notifications disabled", logfields.URL(cfg.Notify.NATSURL), logfields.Error(err))
		return nil
	}
	return pub
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
