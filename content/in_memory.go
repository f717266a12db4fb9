package content

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore is a trivial in-process ContentStore implementation useful
// for tests, examples and single-process prototypes. It keeps all content in
// a flat path-keyed map guarded by an RWMutex. Data is copied on write /
// read to avoid accidental external mutation of internal buffers.
//
// This implementation is intentionally minimal; it does not enforce retention
// limits, size quotas, or eviction. For anything that must survive process
// restarts, prefer FSStore or a cloud object store.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewInMemoryStore returns an empty in-memory content store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

// Write stores (or overwrites) the content bytes at the given path.
// The input slice is copied before storage.
func (s *InMemoryStore) Write(ctx context.Context, path string, data []byte) error {
	if err := validatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[path] = cp

	return nil
}

// Read returns a copy of the stored content bytes or ErrNotFound.
func (s *InMemoryStore) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[path]
	if !ok {
		return nil, ErrNotFound
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	return cp, nil
}

// Exists reports whether content is stored at the given path.
func (s *InMemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blobs[path]

	return ok, nil
}

// List returns the stored paths under the given prefix in lexical order.
// The slice is a snapshot and safe for caller mutation.
func (s *InMemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	return paths, nil
}

// validatePath rejects empty, absolute and parent-traversal paths. Paths are
// always forward-slash separated relative keys (see core.ContentPath).
func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}
