package jobstate

import (
	"context"
	"sync"
	"time"
)

// Memory keeps ledger entries in process and remembers every transition.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
	history map[string][]State
}

func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}, history: map[string][]State{}}
}

func (m *Memory) Put(_ context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key] = rec
	m.history[rec.Key] = append(m.history[rec.Key], rec.State)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrUnknown
	}
	return &rec, nil
}

// History returns the states recorded for key in order.
func (m *Memory) History(key string) []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history[key]...)
}
