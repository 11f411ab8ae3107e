package pipeline

import (
	"log/slog"

	"git.home.luguber.info/inful/minderbuild/internal/bundler"
	"git.home.luguber.info/inful/minderbuild/internal/config"
	"git.home.luguber.info/inful/minderbuild/internal/depgraph"
	"git.home.luguber.info/inful/minderbuild/internal/metrics"
	"git.home.luguber.info/inful/minderbuild/internal/module"
	"git.home.luguber.info/inful/minderbuild/internal/resolver"
	"git.home.luguber.info/inful/minderbuild/internal/sourceinfo"
)

// BuildState carries everything the stages of one build share.
// It is created fresh per build and never reused.
type BuildState struct {
	Config   *config.Config
	Entry    string
	Base     string
	Output   string
	Logger   *slog.Logger
	Recorder metrics.Recorder
	Report   *BuildReport
	Source   sourceinfo.Info

	// Populated by the stages in order.
	Modules  *module.Set
	Graph    *depgraph.Graph
	Order    resolver.Order
	Artifact *bundler.Artifact
}
