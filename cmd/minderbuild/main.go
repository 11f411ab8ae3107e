package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/minderbuild/cmd/minderbuild/commands"
	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/minderbuild/internal/version"
)

func main() {
	var cli commands.CLI
	g := commands.NewGlobal()
	parser := kong.Parse(&cli,
		kong.Name("minderbuild"),
		kong.Description("Resolve module dependencies and assemble a deterministic JavaScript bundle."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(g, &cli),
	)
	if err := parser.Run(); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, g.Logger).HandleError(err)
	}
}
