package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildrelay/cmd/buildrelay/commands"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{}

	parser := kong.Parse(cli,
		kong.Name("buildrelay"),
		kong.Description("Relay zipped projects to build workers through NATS JetStream and hand back the artifact."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)

	if err := parser.Run(global, cli); err != nil {
		adapter := errors.NewCLIErrorAdapter(cli.Verbose, slog.Default())
		adapter.Log(err)
		fmt.Fprintln(os.Stderr, adapter.FormatError(err))
		os.Exit(adapter.ExitCodeFor(err))
	}
}
