package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/archive"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/discovery"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/objectstore"
	"git.home.luguber.info/inful/buildrelay/internal/result"
	"git.home.luguber.info/inful/buildrelay/internal/toolchain"
	"git.home.luguber.info/inful/buildrelay/internal/workspace"
)

const (
	stageDownload       = "download"
	stageExtract        = "extract"
	stageLocateProject  = "locate_project"
	stageBuild          = "build"
	stageLocateArtifact = "locate_artifact"
	stagePublish        = "publish"
)

// cleanupTimeout bounds store calls made after the job context is gone.
const cleanupTimeout = 30 * time.Second

// Deps are the collaborators of a Pipeline. Tracker and Recorder are optional.
type Deps struct {
	Config    *config.Config
	Store     objectstore.Store
	Sink      result.Sink
	Toolchain toolchain.Toolchain
	Workspace *workspace.Manager
	Tracker   jobstate.Tracker
	Recorder  metrics.Recorder
}

// Pipeline runs one job at a time through download, extract, locate, build,
// locate artifact and publish, and always cleans up afterwards.
type Pipeline struct {
	cfg       *config.Config
	store     objectstore.Store
	sink      result.Sink
	toolchain toolchain.Toolchain
	ws        *workspace.Manager
	tracker   jobstate.Tracker
	recorder  metrics.Recorder
}

// NewPipeline wires a pipeline.
func NewPipeline(d Deps) *Pipeline {
	p := &Pipeline{
		cfg:       d.Config,
		store:     d.Store,
		sink:      d.Sink,
		toolchain: d.Toolchain,
		ws:        d.Workspace,
		tracker:   d.Tracker,
		recorder:  d.Recorder,
	}
	if p.tracker == nil {
		p.tracker = jobstate.Noop{}
	}
	if p.recorder == nil {
		p.recorder = metrics.NoopRecorder{}
	}
	if p.ws == nil {
		p.ws = workspace.NewManager(d.Config.Worker.ScratchDir)
	}
	return p
}

// FinalAttempt reports whether delivery is the last one the broker will make.
func (p *Pipeline) FinalAttempt(delivery uint64) bool {
	limit := p.cfg.Broker.MaxDeliver
	return limit > 0 && delivery >= uint64(limit)
}

// Process runs the pipeline for key. Abandonment is an Outcome, not an error.
// A returned error that is retryable means the payload was kept for redelivery.
func (p *Pipeline) Process(ctx context.Context, key jobkey.Key, delivery uint64) (out *Outcome, err error) {
	jc := newJobContext(key, delivery, p.FinalAttempt(delivery))
	log := slog.With(logfields.CorrelationKey(key.String()), logfields.Delivery(delivery))
	if rec, gerr := p.tracker.Get(ctx, key.String()); gerr == nil && rec.Completed() {
		log.Info("Skipping duplicate delivery of finished job", logfields.Outcome(string(rec.Outcome)))
		return &Outcome{Key: key, State: rec.Outcome, Duplicate: true}, nil
	}
	log.Info("Processing job")
	p.advance(ctx, jc, jobstate.Received)

	jc.ws, err = p.ws.Acquire(key.String())
	if err != nil {
		p.finish(ctx, jc, err, log)
		return nil, err
	}
	defer func() {
		p.finish(ctx, jc, err, log)
		if err == nil {
			out = &jc.out
		}
	}()

	if err = p.stage(jc, stageDownload, func() error { return p.download(ctx, jc) }); err != nil {
		return nil, err
	}
	p.advance(ctx, jc, jobstate.Downloaded)

	if err = p.stage(jc, stageExtract, func() error { return p.extract(jc, log) }); err != nil {
		return nil, err
	}
	p.advance(ctx, jc, jobstate.Extracted)

	var manifest discovery.Match
	var found bool
	if err = p.stage(jc, stageLocateProject, func() error {
		manifest, found, err = p.locateManifest(jc, log)
		return err
	}); err != nil {
		return nil, err
	}
	if !found {
		p.abandon(ctx, jc, jobstate.NoProjectFound, "no "+p.cfg.Worker.ManifestExt+" manifest in archive", log)
		return nil, nil
	}
	p.advance(ctx, jc, jobstate.ProjectLocated)

	var build *toolchain.Result
	if err = p.stage(jc, stageBuild, func() error {
		build, err = p.toolchain.Build(ctx, manifest.Path)
		return err
	}); err != nil {
		return nil, err
	}
	jc.out.Build = build
	code := build.ExitCode
	jc.record.ExitCode = &code
	p.recorder.ObserveToolchainDuration(build.Duration, build.ExitCode)
	log.Info("Toolchain finished", logfields.ExitCode(build.ExitCode), logfields.Duration(build.Duration), "timed_out", build.TimedOut)
	if !build.Succeeded() && p.cfg.Worker.BuildFailure == config.BuildFailureStrict {
		p.abandon(ctx, jc, jobstate.BuildFailed, buildFailureReason(build), log)
		return nil, nil
	}
	p.advance(ctx, jc, jobstate.Built)

	var artifact discovery.Match
	if err = p.stage(jc, stageLocateArtifact, func() error {
		artifact, found, err = p.locateArtifact(jc, log)
		return err
	}); err != nil {
		return nil, err
	}
	if !found {
		p.abandon(ctx, jc, jobstate.NoArtifactFound, "no artifact matching "+p.cfg.Worker.ArtifactPattern, log)
		return nil, nil
	}
	p.advance(ctx, jc, jobstate.ArtifactLocated)

	if err = p.stage(jc, stagePublish, func() error { return p.publish(ctx, jc, artifact) }); err != nil {
		return nil, err
	}
	jc.out.State = jobstate.Published
	p.advance(ctx, jc, jobstate.Published)
	log.Info("Published build result", logfields.Artifact(artifact.Rel), logfields.Sink(p.sink.Kind()), logfields.Bytes(int64(jc.out.Size)))
	return nil, nil
}

func (p *Pipeline) download(ctx context.Context, jc *jobContext) error {
	n, err := p.store.Download(ctx, jc.key.PayloadObject(), jc.ws.ArchivePath)
	if objectstore.IsNotFound(err) {
		// Already consumed by an earlier delivery, or never uploaded.
		return errors.NotFoundError("payload not found").
			WithContext("object", jc.key.PayloadObject()).
			WithCause(err).
			Build()
	}
	if err != nil {
		return err
	}
	slog.Debug("Downloaded payload", logfields.CorrelationKey(jc.key.String()), logfields.Bytes(n))
	return nil
}

func (p *Pipeline) extract(jc *jobContext, log *slog.Logger) error {
	stats, err := archive.Extract(jc.ws.ArchivePath, jc.ws.TreeDir, archive.Limits{
		MaxBytes:   p.cfg.Worker.MaxArchiveBytes,
		MaxEntries: p.cfg.Worker.MaxArchiveEntries,
	})
	if err != nil {
		return err
	}
	log.Debug("Extracted payload", logfields.Count(stats.Files), logfields.Bytes(stats.Bytes))
	if log.Enabled(context.Background(), slog.LevelDebug) {
		if tree, lerr := discovery.Listing(jc.ws.TreeDir); lerr == nil {
			log.Debug("Extracted tree", "entries", tree)
		}
	}
	return nil
}

func (p *Pipeline) locateManifest(jc *jobContext, log *slog.Logger) (discovery.Match, bool, error) {
	matches, err := discovery.FindManifests(jc.ws.TreeDir, p.cfg.Worker.ManifestExt)
	if err != nil || len(matches) == 0 {
		return discovery.Match{}, false, err
	}
	chosen := matches[0]
	if len(matches) > 1 {
		ignored := make([]string, 0, len(matches)-1)
		for _, m := range matches[1:] {
			ignored = append(ignored, m.Rel)
		}
		log.Warn("Multiple manifests found; using the first in path order", logfields.Manifest(chosen.Rel), "ignored", ignored)
	}
	jc.out.Manifest = chosen.Rel
	jc.record.Manifest = chosen.Rel
	return chosen, true, nil
}

func (p *Pipeline) locateArtifact(jc *jobContext, log *slog.Logger) (discovery.Match, bool, error) {
	matches, err := discovery.FindArtifacts(jc.ws.TreeDir, p.cfg.Worker.ArtifactPattern)
	if err != nil || len(matches) == 0 {
		return discovery.Match{}, false, err
	}
	chosen := matches[0]
	if len(matches) > 1 {
		log.Warn("Multiple artifacts found; using the first in path order", logfields.Artifact(chosen.Rel), logfields.Count(len(matches)))
	}
	jc.out.Artifact = chosen.Rel
	jc.record.Artifact = chosen.Rel
	return chosen, true, nil
}

func (p *Pipeline) publish(ctx context.Context, jc *jobContext, artifact discovery.Match) error {
	// #nosec G304 -- artifact path was discovered inside the working set
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to read artifact").
			WithContext("path", artifact.Path).
			Build()
	}
	jc.out.Size = len(data)
	return p.sink.Publish(ctx, jc.key, data)
}

// abandon ends the job without a result and, when configured, leaves a failure marker.
func (p *Pipeline) abandon(ctx context.Context, jc *jobContext, state jobstate.State, reason string, log *slog.Logger) {
	jc.out.State = state
	p.advance(ctx, jc, state)
	log.Warn("Job abandoned", logfields.State(string(state)), "reason", reason)
	if !p.cfg.Worker.ReportFailures {
		return
	}
	f := result.Failure{State: string(state), Reason: reason}
	if jc.out.Build != nil {
		code := jc.out.Build.ExitCode
		f.ExitCode = &code
		f.Output = jc.out.Build.Output
	}
	if err := p.sink.Fail(ctx, jc.key, f); err != nil {
		log.Warn("Failed to publish failure marker", logfields.Error(err))
	}
}

// finish is the single exit path: it deletes the payload unless the delivery
// will be retried, removes the working set and records the final state.
func (p *Pipeline) finish(ctx context.Context, jc *jobContext, err error, log *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	retrying := err != nil && willRetry(err, jc.final)
	if err != nil {
		jc.record.Error = err.Error()
		p.advance(cctx, jc, jobstate.Errored)
		if !retrying && p.cfg.Worker.ReportFailures && !errors.HasCategory(err, errors.CategoryNotFound) {
			if ferr := p.sink.Fail(cctx, jc.key, result.Failure{State: string(jobstate.Errored), Reason: err.Error()}); ferr != nil {
				log.Warn("Failed to publish failure marker", logfields.Error(ferr))
			}
		}
	}

	if !retrying {
		if derr := p.store.Delete(cctx, jc.key.PayloadObject()); derr != nil && !objectstore.IsNotFound(derr) {
			log.Warn("Failed to delete payload", logfields.Object(jc.key.PayloadObject()), logfields.Error(derr))
		}
	}
	if jc.ws != nil {
		_ = jc.ws.Release()
	}

	outcome := string(jc.out.State)
	if err != nil {
		outcome = string(jobstate.Errored)
		jc.out.State = ""
	}
	jc.record.Outcome = jobstate.State(outcome)
	p.advance(cctx, jc, jobstate.Cleaned)
	p.recorder.IncJobOutcome(outcome)
	p.recorder.ObserveJobDuration(time.Since(jc.started))
	log.Info("Job finished", logfields.Outcome(outcome), logfields.Duration(time.Since(jc.started)), "retrying", retrying)
}

// advance moves the job to state and records it in the ledger. Ledger errors never fail a job.
func (p *Pipeline) advance(ctx context.Context, jc *jobContext, state jobstate.State) {
	jc.state = state
	jc.record.State = state
	jc.record.UpdatedAt = time.Time{}
	if err := p.tracker.Put(ctx, jc.record); err != nil {
		slog.Debug("Failed to record job state", logfields.CorrelationKey(jc.key.String()), logfields.State(string(state)), logfields.Error(err))
	}
}

func (p *Pipeline) stage(jc *jobContext, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.recorder.ObserveStageDuration(name, time.Since(start))
	res := metrics.ResultSuccess
	switch {
	case err == nil:
	case stderrors.Is(err, context.Canceled):
		res = metrics.ResultCanceled
	default:
		res = metrics.ResultFailed
	}
	p.recorder.IncStageResult(name, res)
	if err != nil {
		slog.Debug("Stage failed", logfields.CorrelationKey(jc.key.String()), logfields.Stage(name), logfields.Error(err))
	}
	return err
}

// willRetry reports whether err hands the delivery back to the broker.
func willRetry(err error, final bool) bool {
	if final {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.IsRetryable(err)
}

func buildFailureReason(r *toolchain.Result) string {
	if r.TimedOut {
		return "toolchain timed out"
	}
	return fmt.Sprintf("toolchain exited with status %d", r.ExitCode)
}
