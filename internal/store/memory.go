package store

import (
	"context"
	"log/slog"
	"sync"
)

// Memory is an in-process Store. It keeps the encoded payloads so that its
// behavior matches SQLite byte for byte.
type Memory struct {
	mu     sync.Mutex
	data   map[string]string
	logger *slog.Logger
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string), logger: slog.Default()}
}

// Load returns the list stored under key.
func (m *Memory) Load(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return []string{}, nil
	}

	values, err := decodeList(raw)
	if err != nil {
		m.logger.Warn("discarding malformed stored list", "key", key, "error", err)
		return []string{}, nil
	}
	return values, nil
}

// Save replaces the list stored under key.
func (m *Memory) Save(_ context.Context, key string, values []string) error {
	raw, err := encodeList(values)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

// Raw returns the stored payload for key exactly as written.
func (m *Memory) Raw(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	return raw, ok, nil
}

// SetRaw writes payload for key without validation.
func (m *Memory) SetRaw(_ context.Context, key, payload string) error {
	m.mu.Lock()
	m.data[key] = payload
	m.mu.Unlock()
	return nil
}
