package kv

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Store. The zero value is ready to use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]json.RawMessage)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, keys ...string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Record, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]json.RawMessage)
	}
	for k, v := range rec {
		m.data[k] = append(json.RawMessage(nil), v...)
	}
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
