package errors

import (
	"bytes"
	stderrors "errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, nil)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", stderrors.New("boom"), 1},
		{"validation", ValidationError("empty file").Build(), 2},
		{"config", ConfigError("bad mode").Build(), 7},
		{"storage", StorageError("denied").Build(), 8},
		{"timeout", TimeoutError("deadline").Build(), 9},
		{"build", BuildError("exit 1").Build(), 11},
		{"abandoned", PipelineError("no manifest").Build(), ExitBuild},
		{"archive", ArchiveError("zip slip").Build(), ExitUsage},
		{"missing result", NotFoundError("not ready").Build(), ExitNotFound},
	}
	for _, tt := range tests {
		if got := adapter.ExitCodeFor(tt.err); got != tt.want {
			t.Errorf("%s: expected exit code %d, got %d", tt.name, tt.want, got)
		}
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, nil)
	verbose := NewCLIErrorAdapter(true, nil)
	err := WrapError(stderrors.New("dial tcp: refused"), CategoryTransport, "enqueue job").Build()

	if got := quiet.FormatError(err); got != "Error: enqueue job" {
		t.Errorf("unexpected quiet format: %q", got)
	}
	if got := verbose.FormatError(err); !strings.Contains(got, "dial tcp: refused") {
		t.Errorf("expected verbose format to include cause, got %q", got)
	}
}

func TestCLIErrorAdapter_LogIncludesContext(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewJSONHandler(&buf, nil)))

	adapter.Log(NotFoundError("result not available yet").
		WithContext("correlation_key", "k1").
		Warning().
		Build())

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("expected warning level, got %s", out)
	}
	if !strings.Contains(out, `"correlation_key":"k1"`) {
		t.Errorf("expected correlation key in log, got %s", out)
	}
}
