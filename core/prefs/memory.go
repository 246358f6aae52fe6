package prefs

import (
	"bytes"
	"context"
	"sync"

	"relay-client/core/errs"
)

// MemoryStore keeps preferences in process memory. Writes can be made to fail for testing
// rollback paths.
type MemoryStore struct {
	mu        sync.Mutex
	values    map[string][]byte
	writeErr  error
	closed    bool
	writeKeys []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// FailWrites makes every subsequent write return err. A nil err restores normal writes.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Writes returns the keys written so far, in order.
func (m *MemoryStore) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writeKeys...)
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, errs.Persistence("prefs.Get", ErrClosed)
	}
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *MemoryStore) writable(op string) error {
	if m.closed {
		return errs.Persistence(op, ErrClosed)
	}
	if m.writeErr != nil {
		return errs.Persistence(op, m.writeErr)
	}
	return nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable("prefs.Set"); err != nil {
		return err
	}
	m.values[key] = bytes.Clone(value)
	m.writeKeys = append(m.writeKeys, key)
	return nil
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable("prefs.SetIfAbsent"); err != nil {
		return nil, false, err
	}
	if existing, ok := m.values[key]; ok {
		return bytes.Clone(existing), false, nil
	}
	m.values[key] = bytes.Clone(value)
	m.writeKeys = append(m.writeKeys, key)
	return bytes.Clone(value), true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable("prefs.Delete"); err != nil {
		return err
	}
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) Apply(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writable("prefs.Apply"); err != nil {
		return err
	}
	for key, value := range b {
		if value == nil {
			delete(m.values, key)
			continue
		}
		m.values[key] = bytes.Clone(value)
		m.writeKeys = append(m.writeKeys, key)
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
