// Package submit is the caller side of the build relay: it stores payloads,
// enqueues their correlation keys and, in sync mode, waits for the result.
package submit

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/objectstore"
	"git.home.luguber.info/inful/buildrelay/internal/result"
)

// Submitter hands payloads to workers and retrieves results.
type Submitter struct {
	cfg      config.SubmitConfig
	topic    string
	access   string
	store    objectstore.Store
	pub      broker.Publisher
	source   result.Source
	recorder metrics.Recorder
}

// Option customizes a Submitter.
type Option func(*Submitter)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Submitter) {
		if r != nil {
			s.recorder = r
		}
	}
}

// New creates a Submitter from the submit and broker configuration.
func New(cfg *config.Config, store objectstore.Store, pub broker.Publisher, source result.Source, opts ...Option) *Submitter {
	s := &Submitter{
		cfg:      cfg.Submit,
		topic:    cfg.Broker.SubmitTopic,
		access:   cfg.Store.Access,
		store:    store,
		pub:      pub,
		source:   source,
		recorder: metrics.NoopRecorder{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Mode returns the configured operating mode.
func (s *Submitter) Mode() config.SubmitMode { return s.cfg.Mode }

// Submit stores payload under a new correlation key and enqueues the key.
// Enqueue waits for the broker acknowledgement up to the flush timeout; on
// failure the payload is removed again and a transport error is returned.
func (s *Submitter) Submit(ctx context.Context, payload []byte) (key jobkey.Key, err error) {
	defer func() { s.recorder.IncSubmission(string(s.cfg.Mode), err == nil) }()

	if len(payload) == 0 {
		return "", errors.ValidationError("payload is empty").Build()
	}
	if err := s.store.EnsureBucket(ctx); err != nil {
		return "", err
	}

	key = jobkey.New()
	log := slog.With(logfields.CorrelationKey(key.String()))
	var meta map[string]string
	if s.access != "" {
		meta = map[string]string{objectstore.MetaAccess: s.access}
	}
	if err := s.store.Put(ctx, key.PayloadObject(), bytes.NewReader(payload), meta); err != nil {
		return "", err
	}
	log.Debug("Stored payload", logfields.Bytes(int64(len(payload))))

	if err := s.pub.Publish(ctx, broker.Record{
		Subject: s.topic,
		Value:   []byte(key.String()),
		MsgID:   key.String(),
	}); err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if derr := s.store.Delete(cctx, key.PayloadObject()); derr != nil && !objectstore.IsNotFound(derr) {
			log.Warn("Failed to remove orphaned payload", logfields.Error(derr))
		}
		if !errors.IsClassified(err) {
			err = errors.WrapError(err, errors.CategoryTransport, "failed to enqueue job").Retryable().Build()
		}
		return "", err
	}
	log.Info("Job submitted", logfields.Topic(s.topic))
	return key, nil
}

// Await waits out the warm-up, then polls for the result every poll interval
// until the timeout elapses. It never reports a timeout before the deadline
// and returns no later than one poll interval after it.
func (s *Submitter) Await(ctx context.Context, key jobkey.Key) ([]byte, error) {
	start := time.Now()
	defer func() { s.recorder.ObserveWaitDuration(time.Since(start)) }()

	if err := sleep(ctx, s.cfg.Warmup); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(s.cfg.Timeout)
	for {
		data, err := s.Fetch(ctx, key)
		switch {
		case err == nil:
			s.recorder.IncPollOutcome(metrics.PollReady)
			return data, nil
		case stderrors.Is(err, result.ErrBuildFailed):
			s.recorder.IncPollOutcome(metrics.PollFailed)
			return nil, err
		case !stderrors.Is(err, result.ErrNotReady):
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.recorder.IncPollOutcome(metrics.PollTimeout)
			return nil, errors.TimeoutError("timed out waiting for build result").
				WithContext("correlation_key", key.String()).
				WithContext("timeout", s.cfg.Timeout.String()).
				Build()
		}
		if err := sleep(ctx, min(s.cfg.PollInterval, remaining)); err != nil {
			return nil, err
		}
	}
}

// SubmitAndWait submits payload and waits for its result.
func (s *Submitter) SubmitAndWait(ctx context.Context, payload []byte) (jobkey.Key, []byte, error) {
	key, err := s.Submit(ctx, payload)
	if err != nil {
		return "", nil, err
	}
	data, err := s.Await(ctx, key)
	return key, data, err
}

// Fetch checks once for the result of key and consumes it when present.
// It returns result.ErrNotReady while nothing is available.
func (s *Submitter) Fetch(ctx context.Context, key jobkey.Key) ([]byte, error) {
	data, err := s.source.Fetch(ctx, key)
	if err == nil {
		slog.Info("Retrieved build result", logfields.CorrelationKey(key.String()), logfields.Bytes(int64(len(data))))
		return data, nil
	}
	var failed *result.FailedError
	if stderrors.As(err, &failed) {
		b := errors.PipelineError("job abandoned without an artifact")
		if failed.Failure.State == string(jobstate.BuildFailed) {
			b = errors.BuildError("build produced no artifact")
		}
		return nil, b.WithCause(err).
			WithContext("correlation_key", key.String()).
			WithContext("state", failed.Failure.State).
			Build()
	}
	return nil, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
