package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store with the same append semantics as SQLiteStore.
// It is used by tests and by `serve --ephemeral`.
type MemoryStore struct {
	mu     sync.Mutex
	ranges map[string][][]string

	failN   int
	failErr error
	calls   int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ranges: make(map[string][][]string)}
}

// FailNext makes the next n calls return err.
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
	m.failErr = err
}

// Calls returns how many store calls were made, failed ones included.
func (m *MemoryStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// injected must be called with mu held.
func (m *MemoryStore) injected() error {
	m.calls++
	if m.failN > 0 {
		m.failN--
		return m.failErr
	}
	return nil
}

func (m *MemoryStore) GetRange(_ context.Context, name string) ([][]string, error) {
	if name == "" {
		return nil, ErrInvalidRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return nil, err
	}
	return copyRows(m.ranges[name]), nil
}

func (m *MemoryStore) AppendRows(_ context.Context, name string, rows [][]string) error {
	if name == "" {
		return ErrInvalidRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	m.ranges[name] = append(m.ranges[name], copyRows(rows)...)
	return nil
}

func (m *MemoryStore) BatchUpdate(_ context.Context, updates []RangeUpdate) error {
	for _, u := range updates {
		if u.Range == "" {
			return ErrInvalidRange
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	for _, u := range updates {
		m.ranges[u.Range] = copyRows(u.Values)
	}
	return nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }
