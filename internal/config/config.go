package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration shared by the submitter,
// the HTTP front end and the build worker.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Broker  BrokerConfig  `yaml:"broker"`
	Submit  SubmitConfig  `yaml:"submit"`
	Worker  WorkerConfig  `yaml:"worker"`
	State   StateConfig   `yaml:"state"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig describes the object store holding payloads and results.
type StoreConfig struct {
	URL          string `yaml:"url"`
	Bucket       string `yaml:"bucket"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	Token        string `yaml:"token,omitempty"`
	Access       string `yaml:"access,omitempty"` // accessibility tag recorded on uploaded payloads
	ResultSuffix string `yaml:"result_suffix"`
}

// BrokerConfig describes the queue transport.
type BrokerConfig struct {
	URL              string        `yaml:"url"`
	Username         string        `yaml:"username,omitempty"`
	Password         string        `yaml:"password,omitempty"`
	Token            string        `yaml:"token,omitempty"`
	SubmitTopic      string        `yaml:"submit_topic"`
	CompletionTopic  string        `yaml:"completion_topic"`
	SubmitStream     string        `yaml:"submit_stream"`
	CompletionStream string        `yaml:"completion_stream"`
	ConsumerGroup    string        `yaml:"consumer_group"`
	FlushTimeout     time.Duration `yaml:"flush_timeout"`
	AckWait          time.Duration `yaml:"ack_wait"`
	MaxDeliver       int           `yaml:"max_deliver"`
	CompletionMaxAge time.Duration `yaml:"completion_max_age"`
}

// SubmitMode selects whether intake returns immediately or waits for the result.
type SubmitMode string

const (
	SubmitModeAsync SubmitMode = "async"
	SubmitModeSync  SubmitMode = "sync"
)

// SubmitConfig controls intake and the synchronous poll loop.
type SubmitConfig struct {
	Mode         SubmitMode    `yaml:"mode"`
	Warmup       time.Duration `yaml:"warmup"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SinkKind selects how a worker hands a finished artifact back.
type SinkKind string

const (
	SinkStore SinkKind = "store" // upload to <key>.<result_suffix>
	SinkQueue SinkKind = "queue" // inline, base64, on the completion topic
)

// BuildFailurePolicy decides what a non-zero toolchain exit means.
type BuildFailurePolicy string

const (
	// BuildFailureLenient ignores the exit status; success is inferred from artifact presence.
	BuildFailureLenient BuildFailurePolicy = "lenient"
	// BuildFailureStrict maps a non-zero exit to the BuildFailed terminal state.
	BuildFailureStrict BuildFailurePolicy = "strict"
)

// WorkerConfig controls the build pipeline.
type WorkerConfig struct {
	ScratchDir        string             `yaml:"scratch_dir,omitempty"`
	ManifestExt       string             `yaml:"manifest_ext"`
	ArtifactPattern   string             `yaml:"artifact_pattern"`
	Sink              SinkKind           `yaml:"sink"`
	BuildFailure      BuildFailurePolicy `yaml:"build_failure"`
	ReportFailures    bool               `yaml:"report_failures"`
	MaxArchiveBytes   int64              `yaml:"max_archive_bytes"`
	MaxArchiveEntries int                `yaml:"max_archive_entries"`
	Toolchain         ToolchainConfig    `yaml:"toolchain"`
	Janitor           JanitorConfig      `yaml:"janitor"`
	Retry             RetryConfig        `yaml:"retry"`
}

// ToolchainConfig describes the external build command. Arguments may contain
// the {manifest} placeholder; when absent the manifest path is appended.
type ToolchainConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// JanitorConfig controls the periodic sweep of stale scratch space.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// StateConfig controls the job state ledger.
type StateConfig struct {
	Enabled bool          `yaml:"enabled"`
	Bucket  string        `yaml:"bucket"`
	TTL     time.Duration `yaml:"ttl"`
}

// HTTPConfig controls the upload front end.
type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// MetricsConfig controls the worker-side Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load loads configuration from the specified file, applies defaults and validates it.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content with environment expansion, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Store.Username = "${BUILDRELAY_STORE_USER}"
	example.Store.Password = "${BUILDRELAY_STORE_PASSWORD}"
	example.State.Enabled = true
	example.Metrics.Enabled = true

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
