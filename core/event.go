package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind categorizes a progress event.
type EventKind string

const (
	// EventLog carries one human-readable progress line.
	EventLog EventKind = "log"
	// EventSession announces the session id, once, as early as possible.
	EventSession EventKind = "session"
	// EventComplete carries the terminal aggregated result.
	EventComplete EventKind = "complete"
	// EventError carries a terminal or advisory failure message.
	EventError EventKind = "error"
)

// ProgressEvent is the unit of the run's push stream. After emission it
// should be treated as immutable. Seq is assigned by the emitter: contiguous
// per run, starting at 1, never reordered or duplicated. Payload fields are
// populated per kind:
//
//   - log:      Severity + Message
//   - session:  SessionID
//   - complete: Result
//   - error:    Message (+ Terminal marking a run abort vs an advisory)
type ProgressEvent struct {
	RunID     string            `json:"run_id"`
	Seq       int64             `json:"seq"`
	Kind      EventKind         `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Severity  Severity          `json:"severity,omitempty"`
	Message   string            `json:"message,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Result    *GenerationResult `json:"result,omitempty"`
	Terminal  bool              `json:"terminal,omitempty"`
}

// NewLogEvent creates a log-kind event. Seq is left for the emitter.
func NewLogEvent(runID string, severity Severity, message string) ProgressEvent {
	return ProgressEvent{
		RunID:     runID,
		Kind:      EventLog,
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Message:   message,
	}
}

// NewSessionEvent announces the session bound to the run.
func NewSessionEvent(runID, sessionID string) ProgressEvent {
	return ProgressEvent{
		RunID:     runID,
		Kind:      EventSession,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
	}
}

// NewCompleteEvent carries the terminal aggregated result.
func NewCompleteEvent(runID string, result *GenerationResult) ProgressEvent {
	return ProgressEvent{
		RunID:     runID,
		Kind:      EventComplete,
		Timestamp: time.Now().UTC(),
		Result:    result,
		Terminal:  true,
	}
}

// NewErrorEvent carries a failure message; terminal distinguishes a run
// abort from an advisory (e.g. one secondary document failing).
func NewErrorEvent(runID, message string, terminal bool) ProgressEvent {
	return ProgressEvent{
		RunID:     runID,
		Kind:      EventError,
		Timestamp: time.Now().UTC(),
		Severity:  SeverityError,
		Message:   message,
		Terminal:  terminal,
	}
}

// IsTerminal reports whether the event ends the run's stream.
func (e ProgressEvent) IsTerminal() bool {
	return e.Kind == EventComplete || (e.Kind == EventError && e.Terminal)
}

// NewID generates a UUID-based identifier used for sessions, runs and
// chat messages throughout the engine.
func NewID() string { return uuid.NewString() }
