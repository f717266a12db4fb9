package core

import (
	"errors"
	"fmt"
)

// Sentinel precondition failures. They surface before any document work and
// leave zero partial state behind.
var (
	// ErrInvalidInput rejects an unusable generation request immediately.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionLocked rejects any mutation of an approved session.
	ErrSessionLocked = errors.New("session locked")
	// ErrSessionProcessing rejects approval of a session still owned by a run.
	ErrSessionProcessing = errors.New("session is still processing")
	// ErrConcurrentModification is the CAS violation: another run already
	// owns the session.
	ErrConcurrentModification = errors.New("session already processing")
)

// FetchError wraps a failed upstream fetch (job posting URL). It aborts a
// run before any document work begins.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BackendError classifies a generation backend failure. Transient errors
// (rate limits, 5xx, timeouts) are retried with capped backoff inside the
// backend call and never consume a page-count attempt; permanent errors
// propagate and abort only the document being generated.
type BackendError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *BackendError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("%s backend error (%s): %v", e.Provider, class, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a backend failure worth retrying.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient
}

// CompileError wraps a compiler rejection of generated markup. Output keeps
// an excerpt of the compiler diagnostics for the corrective prompt.
type CompileError struct {
	Output string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("compile failed: %v: %s", e.Err, e.Output)
	}
	return fmt.Sprintf("compile failed: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// PageCountError records a compiled document that did not hit the target
// length. It drives the retry loop and degrades to non-fatal on exhaustion.
type PageCountError struct {
	Got  int
	Want int
}

func (e *PageCountError) Error() string {
	return fmt.Sprintf("page count mismatch: got %d, want %d", e.Got, e.Want)
}
