package content

import "fmt"

var (
	// ErrNotFound is returned when no content exists at the given path.
	ErrNotFound = fmt.Errorf("content not found")

	// ErrInvalidPath is returned for empty, absolute or traversal paths.
	ErrInvalidPath = fmt.Errorf("invalid content path")
)
