// Package memory keeps archived pages in process memory.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Store maps paths to page bytes and returns memory:// URIs.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// PutObject copies data under path.
func (s *Store) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = raw
	return "memory://" + path, nil
}

// Object returns a copy of the stored bytes.
func (s *Store) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}
