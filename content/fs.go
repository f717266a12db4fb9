package content

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FSStore is a filesystem-backed ContentStore rooted at a base directory.
// Logical forward-slash paths map 1:1 onto files below the root; writes are
// atomic (temp file + rename) so readers never observe partial documents.
type FSStore struct {
	root string
	mu   sync.RWMutex
}

// NewFSStore creates a filesystem content store rooted at basePath,
// creating the directory if needed.
func NewFSStore(basePath string) (*FSStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create content root %s: %w", basePath, err)
	}
	return &FSStore{root: basePath}, nil
}

// Write stores the content bytes at the given logical path.
func (s *FSStore) Write(ctx context.Context, path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create content directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".write-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize content: %w", err)
	}

	return nil
}

// Read returns the content bytes stored at the given logical path.
func (s *FSStore) Read(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// #nosec G304 - full is constrained below the store root by resolve
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read content: %w", err)
	}

	return data, nil
}

// Exists reports whether content is stored at the given logical path.
func (s *FSStore) Exists(ctx context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat content: %w", err)
	}

	return true, nil
}

// List walks the store and returns the logical paths under the given prefix
// in lexical order.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".write-") {
			return nil // in-flight temp file
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		logical := filepath.ToSlash(rel)
		if strings.HasPrefix(logical, prefix) {
			paths = append(paths, logical)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	sort.Strings(paths)

	return paths, nil
}

// resolve validates the logical path and maps it below the store root.
func (s *FSStore) resolve(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(path)), nil
}
