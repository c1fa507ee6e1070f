package kvstore

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Memory is an in-process Store. It is the default backend for tests and for
// sessions that do not need history across restarts.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ Store = &Memory{}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	if m == nil {
		return nil, errors.New("memory kvstore: nil store")
	}
	key = strings.TrimSpace(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	if m == nil {
		return errors.New("memory kvstore: nil store")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("memory kvstore: empty key")
	}
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if m == nil {
		return errors.New("memory kvstore: nil store")
	}
	m.mu.Lock()
	delete(m.data, strings.TrimSpace(key))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
