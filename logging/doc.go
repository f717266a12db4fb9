// Package logging provides a minimal logging interface and adapters for
// ApplyForge.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the orchestrator and its collaborators use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ForgeLogger with contextual helpers (component, session, run) and
//     domain helpers for model calls, compile runs and document outcomes
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	app := applyforge.New(m, func(o *applyforge.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
