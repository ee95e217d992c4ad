package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// Prefix starts the name of every scratch entry this package creates.
const Prefix = "buildrelay-"

const (
	archiveName = "payload.zip"
	treeName    = "tree"
)

// Manager hands out working sets under a scratch root.
type Manager struct {
	baseDir string

	mu     sync.Mutex
	active map[string]struct{}
}

// NewManager creates a manager rooted at baseDir, defaulting to the OS temp dir.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir, active: map[string]struct{}{}}
}

// BaseDir returns the scratch root.
func (m *Manager) BaseDir() string { return m.baseDir }

// WorkingSet is one job's scratch space.
type WorkingSet struct {
	Key         string
	Root        string
	ArchivePath string // where the payload is downloaded
	TreeDir     string // extraction and build output

	mgr  *Manager
	once sync.Once
}

// Acquire creates a fresh working set for key. Concurrent jobs, including two
// deliveries of the same key, never share a directory.
func (m *Manager) Acquire(key string) (*WorkingSet, error) {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create scratch root").Retryable().
			WithContext("path", m.baseDir).
			Build()
	}
	root, err := os.MkdirTemp(m.baseDir, Prefix+sanitize(key)+"-")
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create working set").Retryable().
			WithContext("path", m.baseDir).
			Build()
	}
	ws := &WorkingSet{
		Key:         key,
		Root:        root,
		ArchivePath: filepath.Join(root, archiveName),
		TreeDir:     filepath.Join(root, treeName),
		mgr:         m,
	}
	if err := os.Mkdir(ws.TreeDir, 0o750); err != nil {
		_ = os.RemoveAll(root)
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create extraction directory").Retryable().
			WithContext("path", ws.TreeDir).
			Build()
	}

	m.mu.Lock()
	m.active[root] = struct{}{}
	m.mu.Unlock()

	slog.Debug("Acquired working set", logfields.CorrelationKey(key), logfields.Path(root))
	return ws, nil
}

// Release removes the working set. It is safe to call more than once; failures
// are logged and reported but callers treat them as non-fatal.
func (ws *WorkingSet) Release() error {
	var err error
	ws.once.Do(func() {
		if rmErr := os.RemoveAll(ws.Root); rmErr != nil {
			err = fmt.Errorf("failed to cleanup working set: %w", rmErr)
			slog.Warn("Working set cleanup failed", logfields.CorrelationKey(ws.Key), logfields.Path(ws.Root), logfields.Error(rmErr))
		} else {
			slog.Debug("Released working set", logfields.CorrelationKey(ws.Key), logfields.Path(ws.Root))
		}
		ws.mgr.mu.Lock()
		delete(ws.mgr.active, ws.Root)
		ws.mgr.mu.Unlock()
	})
	return err
}

func (m *Manager) isActive(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[path]
	return ok
}

// sanitize keeps keys usable as a path component.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}
