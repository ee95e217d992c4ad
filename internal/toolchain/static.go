package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Static is a fake toolchain that writes fixed files next to the manifest.
type Static struct {
	// Outputs maps slash-separated paths relative to the manifest directory to contents.
	Outputs  map[string][]byte
	ExitCode int
	Output   string
	Err      error
	// Delay holds every build back, simulating a slow toolchain.
	Delay    time.Duration

	mu    sync.Mutex
	calls []string
}

func (s *Static) Build(ctx context.Context, manifestPath string) (*Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, manifestPath)
	s.mu.Unlock()

	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	dir := filepath.Dir(manifestPath)
	for rel, data := range s.Outputs {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, data, 0o600); err != nil {
			return nil, err
		}
	}
	return &Result{ExitCode: s.ExitCode, Output: s.Output}, nil
}

// Calls returns the manifests passed to Build in order.
func (s *Static) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
