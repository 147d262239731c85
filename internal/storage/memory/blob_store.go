// Package memory keeps crawl state and archived artifacts in process memory
// for development runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BlobStore stores artifacts in-memory and returns memory:// URIs.
type BlobStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	types map[string]string
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// PutObject keeps a copy of data under path.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	s.types[path] = contentType
	return "memory://" + path, nil
}

// Get returns the stored bytes and content type for path.
func (s *BlobStore) Get(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[path], true
}

// Paths lists stored paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for p := range s.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
