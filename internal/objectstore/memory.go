package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// Memory is an in-process Store. The bucket must be ensured before Put, like
// the real backend.
type Memory struct {
	mu      sync.RWMutex
	bucket  bool
	objects map[string]memObject
	claimed map[string]bool

	// PutErr, when set, fails every Put. Tests use it to simulate outages.
	PutErr error
}

type memObject struct {
	data []byte
	meta map[string]string
}

// NewMemory returns an empty in-memory store without a bucket.
func NewMemory() *Memory {
	return &Memory{objects: map[string]memObject{}, claimed: map[string]bool{}}
}

func (m *Memory) EnsureBucket(context.Context) error {
	m.mu.Lock()
	m.bucket = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Put(ctx context.Context, name string, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.PutErr != nil {
		return m.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.bucket {
		return fmt.Errorf("bucket does not exist")
	}
	cp := make(map[string]string, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	m.objects[name] = memObject{data: data, meta: cp}
	return nil
}

func (m *Memory) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", name, ErrNotFound)
	}
	return bytes.Clone(obj.data), nil
}

func (m *Memory) Download(ctx context.Context, name, path string) (int64, error) {
	data, err := m.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (m *Memory) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; !ok {
		return fmt.Errorf("delete %s: %w", name, ErrNotFound)
	}
	delete(m.objects, name)
	return nil
}

func (m *Memory) Claim(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[name] {
		return fmt.Errorf("claim %s: %w", name, ErrClaimed)
	}
	m.claimed[name] = true
	return nil
}

func (m *Memory) Close() error { return nil }

// Names lists stored object names in sorted order.
func (m *Memory) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for name := range m.objects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Metadata returns the metadata recorded for name.
func (m *Memory) Metadata(name string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[name].meta
}
