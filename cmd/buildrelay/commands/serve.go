package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/result"
	"git.home.luguber.info/inful/buildrelay/internal/server/httpserver"
	"git.home.luguber.info/inful/buildrelay/internal/submit"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr string `help:"Override http.addr"`
	Mode string `help:"Override submit.mode (async|sync)"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.HTTP.Addr = s.Addr
	}
	if s.Mode != "" {
		cfg.Submit.Mode = config.SubmitMode(s.Mode)
		if err := config.Validate(cfg); err != nil {
			return errors.WrapError(err, errors.CategoryConfig, "invalid serve override").Build()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer watchConfig(ctx, g, root)()

	return RunServe(ctx, cfg, g.Logger)
}

// RunServe runs the HTTP front end until ctx is cancelled.
func RunServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	be, err := connect(ctx, cfg, "buildrelay-http")
	if err != nil {
		return err
	}
	defer be.Close()

	reg, recorder := newRecorder(cfg.Metrics)
	sub := submit.New(cfg, be.store, be.broker, result.NewSource(cfg, be.store, be.broker), submit.WithRecorder(recorder))

	srv := httpserver.New(cfg.HTTP, httpserver.Options{
		Submitter: sub,
		Tracker:   be.tracker,
		Registry:  reg,
		Logger:    logger,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping HTTP server")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return srv.Stop(stopCtx)
}
