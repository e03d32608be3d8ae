package config

import (
	"context"
	"sync"

	"github.com/second-state/echokit-box/domain/repositories"
)

// Memory is an in-memory ConfigStore for tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory ConfigStore.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get implements repositories.ConfigStore.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return nil, repositories.ErrKeyNotFound
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, nil
}

// Set implements repositories.ConfigStore.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

// SetAll implements repositories.ConfigStore.
func (m *Memory) SetAll(_ context.Context, pairs map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range pairs {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.data[k] = cp
	}
	return nil
}

// Delete implements repositories.ConfigStore.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close implements repositories.ConfigStore.
func (m *Memory) Close() error {
	return nil
}
