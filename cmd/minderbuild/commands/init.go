package commands

import (
	"fmt"

	"git.home.luguber.info/inful/minderbuild/internal/config"
	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	out := g.out()
	_, _ = fmt.Fprintf(out, "Writing configuration to %s\n", root.Config)
	if err := config.Init(root.Config, i.Force); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "initialization failed").
			WithContext("path", root.Config).
			Build()
	}
	_, _ = fmt.Fprintln(out, "initialized successfully")
	return nil
}
