package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/result"
	"git.home.luguber.info/inful/buildrelay/internal/retry"
	"git.home.luguber.info/inful/buildrelay/internal/toolchain"
	"git.home.luguber.info/inful/buildrelay/internal/worker"
	"git.home.luguber.info/inful/buildrelay/internal/workspace"
)

// WorkerCmd implements the 'worker' command.
type WorkerCmd struct {
	ScratchDir string `help:"Override worker.scratch_dir" type:"path"`
	Sink       string `help:"Override worker.sink (store|queue)"`
}

func (w *WorkerCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	if w.ScratchDir != "" {
		cfg.Worker.ScratchDir = w.ScratchDir
	}
	if w.Sink != "" {
		cfg.Worker.Sink = config.SinkKind(w.Sink)
		if err := config.Validate(cfg); err != nil {
			return errors.WrapError(err, errors.CategoryConfig, "invalid worker override").Build()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer watchConfig(ctx, g, root)()

	return RunWorker(ctx, cfg)
}

// RunWorker consumes jobs until ctx is cancelled. The job in flight when the
// signal arrives runs to completion before the consumer is closed.
func RunWorker(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting build worker",
		logfields.Topic(cfg.Broker.SubmitTopic),
		slog.String("consumer_group", cfg.Broker.ConsumerGroup),
		logfields.Sink(string(cfg.Worker.Sink)))

	be, err := connect(ctx, cfg, "buildrelay-worker")
	if err != nil {
		return err
	}
	defer be.Close()

	reg, recorder := newRecorder(cfg.Metrics)
	if reg != nil {
		defer serveMetrics(cfg.Metrics.Addr, reg)()
	}

	ws := workspace.NewManager(cfg.Worker.ScratchDir)
	janitor, err := workspace.NewJanitor(ws, cfg.Worker.Janitor.Interval, cfg.Worker.Janitor.MaxAge)
	if err != nil {
		return err
	}
	janitor.Start(ctx)
	defer func() {
		if err := janitor.Stop(context.Background()); err != nil {
			slog.Warn("Failed to stop scratch janitor", logfields.Error(err))
		}
	}()

	pipeline := worker.NewPipeline(worker.Deps{
		Config:    cfg,
		Store:     be.store,
		Sink:      result.NewSink(cfg, be.store, be.broker),
		Toolchain: toolchain.NewExec(cfg.Worker.Toolchain),
		Workspace: ws,
		Tracker:   be.tracker,
		Recorder:  recorder,
	})

	consumer, err := be.broker.Consumer(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = consumer.Close() }()

	start := time.Now()
	err = worker.New(pipeline, consumer, retry.FromConfig(cfg.Worker.Retry)).Run(ctx)
	slog.Info("Build worker stopped", slog.Duration("uptime", time.Since(start)))
	return err
}
