package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks cross-field invariants after defaults have been applied.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Store.Bucket) == "" {
		errs = append(errs, errors.New("store.bucket must not be empty"))
	}
	if strings.ContainsAny(cfg.Store.ResultSuffix, "/\\ ") {
		errs = append(errs, fmt.Errorf("store.result_suffix %q must be a plain extension", cfg.Store.ResultSuffix))
	}
	if cfg.Broker.SubmitTopic == "" || cfg.Broker.CompletionTopic == "" {
		errs = append(errs, errors.New("broker topics must not be empty"))
	}
	if cfg.Broker.SubmitTopic == cfg.Broker.CompletionTopic {
		errs = append(errs, errors.New("broker.submit_topic and broker.completion_topic must differ"))
	}
	if cfg.Broker.SubmitStream == cfg.Broker.CompletionStream {
		errs = append(errs, errors.New("broker.submit_stream and broker.completion_stream must differ"))
	}
	if cfg.Broker.ConsumerGroup == "" {
		errs = append(errs, errors.New("broker.consumer_group must not be empty"))
	}
	if cfg.Broker.MaxDeliver < -1 || cfg.Broker.MaxDeliver == 0 {
		errs = append(errs, fmt.Errorf("broker.max_deliver must be positive or -1 (unlimited), got %d", cfg.Broker.MaxDeliver))
	}

	switch cfg.Submit.Mode {
	case SubmitModeAsync, SubmitModeSync:
	default:
		errs = append(errs, fmt.Errorf("submit.mode must be %q or %q, got %q", SubmitModeAsync, SubmitModeSync, cfg.Submit.Mode))
	}
	if cfg.Submit.PollInterval <= 0 || cfg.Submit.Timeout <= 0 {
		errs = append(errs, errors.New("submit.poll_interval and submit.timeout must be positive"))
	}

	switch cfg.Worker.Sink {
	case SinkStore, SinkQueue:
	default:
		errs = append(errs, fmt.Errorf("worker.sink must be %q or %q, got %q", SinkStore, SinkQueue, cfg.Worker.Sink))
	}
	switch cfg.Worker.BuildFailure {
	case BuildFailureLenient, BuildFailureStrict:
	default:
		errs = append(errs, fmt.Errorf("worker.build_failure must be %q or %q, got %q", BuildFailureLenient, BuildFailureStrict, cfg.Worker.BuildFailure))
	}
	if !strings.HasPrefix(cfg.Worker.ManifestExt, ".") {
		errs = append(errs, fmt.Errorf("worker.manifest_ext %q must start with a dot", cfg.Worker.ManifestExt))
	}
	if _, err := filepath.Match(cfg.Worker.ArtifactPattern, "artifact.dll"); err != nil {
		errs = append(errs, fmt.Errorf("worker.artifact_pattern: %w", err))
	}
	if tt := cfg.Worker.Toolchain.Timeout; tt > 0 {
		if cfg.Broker.AckWait <= tt {
			errs = append(errs, fmt.Errorf("broker.ack_wait (%s) must exceed worker.toolchain.timeout (%s)", cfg.Broker.AckWait, tt))
		}
		if cfg.Worker.Janitor.MaxAge <= tt {
			errs = append(errs, fmt.Errorf("worker.janitor.max_age (%s) must exceed worker.toolchain.timeout (%s)", cfg.Worker.Janitor.MaxAge, tt))
		}
	}
	if NormalizeRetryBackoff(string(cfg.Worker.Retry.Backoff)) == "" {
		errs = append(errs, fmt.Errorf("worker.retry.backoff: unknown mode %q", cfg.Worker.Retry.Backoff))
	}

	return errors.Join(errs...)
}
