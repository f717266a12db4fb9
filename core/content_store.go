package core

import "context"

// ContentStore defines the interface for generated-content persistence.
// Implementations must be thread-safe. Paths are forward-slash separated and
// namespaced per owner, per session (see ContentPath); listing is by path
// prefix. Short method names mirror the session store for consistency.
type ContentStore interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
