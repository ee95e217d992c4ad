package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// Global carries state shared by subcommands.
type Global struct {
	Logger *slog.Logger
	Level  *slog.LevelVar
	Out    io.Writer // command output; stdout when nil
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"buildrelay.yaml" env:"BUILDRELAY_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Worker WorkerCmd `cmd:"" help:"Consume build jobs until interrupted"`
	Serve  ServeCmd  `cmd:"" help:"Run the HTTP upload front end"`
	Submit SubmitCmd `cmd:"" help:"Submit a zipped project"`
	Fetch  FetchCmd  `cmd:"" help:"Retrieve the result of a submitted job"`
	Status StatusCmd `cmd:"" help:"Show the recorded pipeline state of a job"`
	Init   InitCmd   `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing and sets up logging once. The level is
// adjusted later from the configuration unless --verbose is given.
func (c *CLI) AfterApply(g *Global) error {
	g.ensure()
	if c.Verbose {
		g.Level.Set(slog.LevelDebug)
	}
	g.Logger = config.NewLogger(os.Stderr, config.LogFormatText, g.Level)
	slog.SetDefault(g.Logger)
	return nil
}

func (g *Global) ensure() {
	if g.Level == nil {
		g.Level = new(slog.LevelVar)
	}
	if g.Logger == nil {
		g.Logger = slog.Default()
	}
}

func (g *Global) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// loadConfig reads the configuration file and applies its logging section.
func loadConfig(g *Global, root *CLI) (*config.Config, error) {
	g.ensure()
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to load configuration").
			WithContext("path", root.Config).
			Build()
	}
	applyLogging(g, root, cfg.Logging)
	return cfg, nil
}

func applyLogging(g *Global, root *CLI, lc config.LoggingConfig) {
	if !root.Verbose {
		g.Level.Set(lc.Level.Slog())
	}
	if lc.Format == config.LogFormatJSON {
		g.Logger = config.NewLogger(os.Stderr, lc.Format, g.Level)
		slog.SetDefault(g.Logger)
	}
}

// watchConfig hot-reloads the logging level of long-lived commands. Watch
// failures are logged and otherwise ignored.
func watchConfig(ctx context.Context, g *Global, root *CLI) func() {
	w, err := config.NewWatcher(root.Config, func(cfg *config.Config) {
		if !root.Verbose {
			g.Level.Set(cfg.Logging.Level.Slog())
			slog.Info("Log level updated", slog.String("level", string(cfg.Logging.Level)))
		}
	})
	if err != nil {
		slog.Warn("Config watcher unavailable", logfields.Error(err))
		return func() {}
	}
	if err := w.Start(ctx); err != nil {
		slog.Warn("Config watcher failed to start", logfields.Error(err))
		return func() {}
	}
	return w.Stop
}
