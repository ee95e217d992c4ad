package commands

import (
	"fmt"
	"io"
	"path/filepath"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force  bool   `help:"Overwrite existing configuration file"`
	Output string `short:"o" name:"output" help:"Output directory for generated config file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	// An explicit output directory gets "buildrelay.yaml" inside it.
	if i.Output != "" {
		return RunInit(g.out(), filepath.Join(i.Output, "buildrelay.yaml"), i.Force)
	}
	return RunInit(g.out(), root.Config, i.Force)
}

func RunInit(out io.Writer, configPath string, force bool) error {
	_, _ = fmt.Fprintf(out, "Writing configuration to %s\n", configPath)
	if err := config.Init(configPath, force); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "initialization failed").
			WithContext("path", configPath).
			Build()
	}
	_, _ = fmt.Fprintln(out, "initialized successfully")
	return nil
}
