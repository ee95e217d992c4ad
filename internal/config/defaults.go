package config

import "time"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ackWaitMargin is added to the toolchain timeout for the default ack wait.
const ackWaitMargin = 5 * time.Minute

// ApplyDefaults fills zero values. Explicit values are left untouched.
func ApplyDefaults(cfg *Config) {
	applyStoreDefaults(&cfg.Store)
	applyBrokerDefaults(&cfg.Broker)
	applySubmitDefaults(&cfg.Submit)
	applyWorkerDefaults(&cfg.Worker)

	// The ack wait has to cover a build that stops sending progress.
	if cfg.Broker.AckWait <= 0 {
		cfg.Broker.AckWait = cfg.Worker.Toolchain.Timeout + ackWaitMargin
	}

	if cfg.State.Bucket == "" {
		cfg.State.Bucket = "build-state"
	}
	if cfg.State.TTL <= 0 {
		cfg.State.TTL = 24 * time.Hour
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		cfg.HTTP.MaxUploadBytes = 64 << 20
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		// sync mode holds the request open for warmup + timeout
		cfg.HTTP.WriteTimeout = cfg.Submit.Warmup + cfg.Submit.Timeout + 30*time.Second
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9102"
	}
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
}

func applyStoreDefaults(s *StoreConfig) {
	if s.URL == "" {
		s.URL = "nats://localhost:4222"
	}
	if s.Bucket == "" {
		s.Bucket = "my-bucket"
	}
	if s.Access == "" {
		s.Access = "public-read"
	}
	if s.ResultSuffix == "" {
		s.ResultSuffix = "dll"
	}
}

func applyBrokerDefaults(b *BrokerConfig) {
	if b.URL == "" {
		b.URL = "nats://localhost:4222"
	}
	if b.SubmitTopic == "" {
		b.SubmitTopic = "build"
	}
	if b.CompletionTopic == "" {
		b.CompletionTopic = "build-complete"
	}
	if b.SubmitStream == "" {
		b.SubmitStream = "BUILD"
	}
	if b.CompletionStream == "" {
		b.CompletionStream = "BUILD_COMPLETE"
	}
	if b.ConsumerGroup == "" {
		b.ConsumerGroup = "build-consumer-group"
	}
	if b.FlushTimeout <= 0 {
		b.FlushTimeout = 10 * time.Second
	}
	if b.MaxDeliver == 0 {
		b.MaxDeliver = 5
	}
	if b.CompletionMaxAge <= 0 {
		b.CompletionMaxAge = 24 * time.Hour
	}
}

func applySubmitDefaults(s *SubmitConfig) {
	if s.Mode == "" {
		s.Mode = SubmitModeSync
	}
	switch {
	case s.Warmup == 0:
		s.Warmup = 6 * time.Second
	case s.Warmup < 0:
		// negative disables the warm-up sleep
		s.Warmup = 0
	}
	if s.PollInterval <= 0 {
		s.PollInterval = time.Second
	}
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
}

func applyWorkerDefaults(w *WorkerConfig) {
	if w.ManifestExt == "" {
		w.ManifestExt = ".csproj"
	}
	if w.ArtifactPattern == "" {
		w.ArtifactPattern = "*.dll.patched"
	}
	if w.Sink == "" {
		w.Sink = SinkStore
	}
	if w.BuildFailure == "" {
		w.BuildFailure = BuildFailureLenient
	}
	if w.MaxArchiveBytes <= 0 {
		w.MaxArchiveBytes = 1 << 30
	}
	if w.MaxArchiveEntries <= 0 {
		w.MaxArchiveEntries = 50_000
	}
	if w.Toolchain.Command == "" {
		w.Toolchain.Command = "dotnet"
		if len(w.Toolchain.Args) == 0 {
			w.Toolchain.Args = []string{"build", "{manifest}"}
		}
	}
	if w.Toolchain.Timeout <= 0 {
		w.Toolchain.Timeout = 15 * time.Minute
	}
	if w.Janitor.Interval <= 0 {
		w.Janitor.Interval = 10 * time.Minute
	}
	if w.Janitor.MaxAge <= 0 {
		w.Janitor.MaxAge = 2 * time.Hour
	}
	if w.Retry.Backoff == "" {
		w.Retry.Backoff = RetryBackoffExponential
	}
	if w.Retry.InitialDelay <= 0 {
		w.Retry.InitialDelay = 2 * time.Second
	}
	if w.Retry.MaxDelay <= 0 {
		w.Retry.MaxDelay = time.Minute
	}
}
