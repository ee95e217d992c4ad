package worker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/jobstate"
	"git.home.luguber.info/inful/buildrelay/internal/objectstore"
	"git.home.luguber.info/inful/buildrelay/internal/result"
	"git.home.luguber.info/inful/buildrelay/internal/toolchain"
	"git.home.luguber.info/inful/buildrelay/internal/workspace"
)

type harness struct {
	cfg      *config.Config
	store    *objectstore.Memory
	broker   *broker.Memory
	tracker  *jobstate.Memory
	scratch  string
	pipeline *Pipeline
	source   result.Source
}

func newHarness(t *testing.T, tc toolchain.Toolchain, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Worker.ScratchDir = t.TempDir()
	for _, m := range mutate {
		m(cfg)
	}
	store := objectstore.NewMemory()
	require.NoError(t, store.EnsureBucket(context.Background()))
	b := broker.NewMemory(cfg.Broker.SubmitTopic)
	t.Cleanup(func() { _ = b.Close() })
	tracker := jobstate.NewMemory()

	p := NewPipeline(Deps{
		Config:    cfg,
		Store:     store,
		Sink:      result.NewSink(cfg, store, b),
		Toolchain: tc,
		Workspace: workspace.NewManager(cfg.Worker.ScratchDir),
		Tracker:   tracker,
	})
	return &harness{
		cfg:      cfg,
		store:    store,
		broker:   b,
		tracker:  tracker,
		scratch:  cfg.Worker.ScratchDir,
		pipeline: p,
		source:   result.NewSource(cfg, store, b),
	}
}

// upload stores a zip built from files under a fresh key.
func (h *harness) upload(t *testing.T, files map[string]string) jobkey.Key {
	t.Helper()
	key := jobkey.New()
	require.NoError(t, h.store.Put(context.Background(), key.PayloadObject(), bytes.NewReader(zipBytes(t, files)), nil))
	return key
}

// requireScratchEmpty asserts that no working set survived.
func (h *harness) requireScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	require.Empty(t, entries, "residual scratch entries")
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// echoToolchain "compiles" a manifest by copying its contents into the artifact.
type echoToolchain struct{}

func (echoToolchain) Build(_ context.Context, manifestPath string) (*toolchain.Result, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(filepath.Dir(manifestPath), "bin", "Release", "App.dll.patched")
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return nil, err
	}
	return &toolchain.Result{Output: "Build succeeded."}, nil
}

func bytesReader(s string) *bytes.Reader { return bytes.NewReader([]byte(s)) }
