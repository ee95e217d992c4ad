package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "my-bucket", cfg.Store.Bucket)
	assert.Equal(t, "dll", cfg.Store.ResultSuffix)
	assert.Equal(t, "public-read", cfg.Store.Access)
	assert.Equal(t, "build", cfg.Broker.SubmitTopic)
	assert.Equal(t, "build-complete", cfg.Broker.CompletionTopic)
	assert.Equal(t, "build-consumer-group", cfg.Broker.ConsumerGroup)
	assert.Equal(t, 10*time.Second, cfg.Broker.FlushTimeout)
	assert.Equal(t, 20*time.Minute, cfg.Broker.AckWait, "ack wait outlives the toolchain timeout")
	assert.Equal(t, SubmitModeSync, cfg.Submit.Mode)
	assert.Equal(t, 6*time.Second, cfg.Submit.Warmup)
	assert.Equal(t, time.Second, cfg.Submit.PollInterval)
	assert.Equal(t, ".csproj", cfg.Worker.ManifestExt)
	assert.Equal(t, "*.dll.patched", cfg.Worker.ArtifactPattern)
	assert.Equal(t, SinkStore, cfg.Worker.Sink)
	assert.Equal(t, BuildFailureLenient, cfg.Worker.BuildFailure)
	assert.Equal(t, "dotnet", cfg.Worker.Toolchain.Command)
	assert.Equal(t, []string{"build", "{manifest}"}, cfg.Worker.Toolchain.Args)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
	assert.Equal(t, LogFormatText, cfg.Logging.Format)
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("BR_TEST_BUCKET", "artifacts")
	t.Setenv("BR_TEST_SECRET", "s3cr3t")

	cfg, err := Parse([]byte(`
store:
  bucket: ${BR_TEST_BUCKET}
  password: ${BR_TEST_SECRET}
submit:
  mode: async
  poll_interval: 250ms
  timeout: 2m
  warmup: -1s
worker:
  sink: queue
  build_failure: strict
  toolchain:
    command: make
    args: ["-f", "{manifest}"]
`))
	require.NoError(t, err)

	assert.Equal(t, "artifacts", cfg.Store.Bucket)
	assert.Equal(t, "s3cr3t", cfg.Store.Password)
	assert.Equal(t, SubmitModeAsync, cfg.Submit.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Submit.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Submit.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Submit.Warmup)
	assert.Equal(t, SinkQueue, cfg.Worker.Sink)
	assert.Equal(t, BuildFailureStrict, cfg.Worker.BuildFailure)
	assert.Equal(t, "make", cfg.Worker.Toolchain.Command)
	assert.Equal(t, []string{"-f", "{manifest}"}, cfg.Worker.Toolchain.Args)
}

func TestParse_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"mode":          "submit:\n  mode: eventually\n",
		"sink":          "worker:\n  sink: carrier-pigeon\n",
		"failure":       "worker:\n  build_failure: maybe\n",
		"topics":        "broker:\n  submit_topic: same\n  completion_topic: same\n",
		"manifest ext":  "worker:\n  manifest_ext: csproj\n",
		"pattern":       "worker:\n  artifact_pattern: \"[\"\n",
		"result suffix": "store:\n  result_suffix: a/b\n",
		"ack wait":      "broker:\n  ack_wait: 10m\n",
		"janitor age":   "worker:\n  janitor:\n    max_age: 15m\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_AckWaitFollowsToolchainTimeout(t *testing.T) {
	cfg, err := Parse([]byte("worker:\n  toolchain:\n    timeout: 40m\n  janitor:\n    max_age: 1h\n"))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Broker.AckWait)

	_, err = Parse([]byte("broker:\n  ack_wait: 30m\nworker:\n  toolchain:\n    timeout: 40m\n  janitor:\n    max_age: 1h\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.ack_wait")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildrelay.yaml")
	require.NoError(t, Init(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.State.Enabled)
	assert.Equal(t, 6*time.Second, cfg.Submit.Warmup)

	err = Init(path, false)
	require.Error(t, err, "second init without force must refuse to overwrite")
	require.NoError(t, Init(path, true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNormalizeLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, NormalizeLogLevel(" DEBUG "))
	assert.Equal(t, LogLevelWarn, NormalizeLogLevel("warning"))
	assert.Equal(t, LogLevelInfo, NormalizeLogLevel("chatty"))
}
