package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/applyforge/core"
	"github.com/hupe1980/applyforge/logging"
)

// EmitterOptions configures an Emitter.
type EmitterOptions struct {
	// BufferSize is the push channel capacity. When the buffer is full
	// the event is counted as dropped rather than blocking the run.
	BufferSize int

	// Store persists log lines onto the session; nil disables
	// persistence (the push channel still works).
	Store core.SessionStore

	// Sink receives every event synchronously in emission order, after
	// channel delivery. The server wires Broker.Publish here.
	Sink func(ev core.ProgressEvent)

	// Logger receives emitter diagnostics; defaults to NoOpLogger.
	Logger logging.Logger
}

// Emitter is the single producer of one run's progress stream. It owns
// the sequence counters: event sequence numbers are contiguous from 1
// across all kinds, log line sequence numbers are contiguous from 1
// across log and error lines.
type Emitter struct {
	runID  string
	ch     chan core.ProgressEvent
	store  core.SessionStore
	sink   func(ev core.ProgressEvent)
	logger logging.Logger

	mu        sync.Mutex
	seq       int64
	logSeq    int64
	sessionID string
	lines     []core.LogLine
	flushed   int
	dropped   int64
	closed    bool
}

// NewEmitter creates the emitter for one run.
func NewEmitter(runID string, optFns ...func(o *EmitterOptions)) *Emitter {
	opts := EmitterOptions{
		BufferSize: 64,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BufferSize < 1 {
		opts.BufferSize = 64
	}

	return &Emitter{
		runID:  runID,
		ch:     make(chan core.ProgressEvent, opts.BufferSize),
		store:  opts.Store,
		sink:   opts.Sink,
		logger: opts.Logger,
	}
}

// RunID returns the run this emitter belongs to.
func (e *Emitter) RunID() string { return e.runID }

// Events returns the run's push channel. It is closed by Close after the
// terminal event.
func (e *Emitter) Events() <-chan core.ProgressEvent { return e.ch }

// BindSession announces the session id: it emits the session event and
// flushes every line buffered before the session existed.
func (e *Emitter) BindSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sessionID != "" {
		return
	}
	e.sessionID = sessionID

	e.emitLocked(core.NewSessionEvent(e.runID, sessionID))
	e.persistLocked()
}

// Logf emits one log event and records the line for persistence. The
// signature matches compose.LogFunc so the runner can hand it straight
// to the loop.
func (e *Emitter) Logf(severity core.Severity, format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	message := fmt.Sprintf(format, args...)
	e.recordLineLocked(severity, message)
	e.emitLocked(core.NewLogEvent(e.runID, severity, message))
	e.persistLocked()
}

// Error emits an error event; terminal marks a run abort rather than an
// advisory (e.g. one secondary document failing). The message is also
// recorded as an error-severity log line so the pull path sees it.
func (e *Emitter) Error(message string, terminal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recordLineLocked(core.SeverityError, message)
	e.emitLocked(core.NewErrorEvent(e.runID, message, terminal))
	e.persistLocked()
}

// Complete emits the terminal event carrying the aggregated result.
func (e *Emitter) Complete(result *core.GenerationResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.emitLocked(core.NewCompleteEvent(e.runID, result))
}

// Lines returns the full ordered log snapshot of this run, regardless of
// what has been persisted so far.
func (e *Emitter) Lines() []core.LogLine {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.LogLine, len(e.lines))
	copy(out, e.lines)
	return out
}

// Dropped returns how many events could not be delivered to the push
// channel. Dropped events still reach the sink and the persisted log.
func (e *Emitter) Dropped() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the push channel; later events are no longer delivered.
// Safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}

// emitLocked assigns the sequence number and delivers the event; callers
// hold e.mu.
func (e *Emitter) emitLocked(ev core.ProgressEvent) {
	if e.closed {
		return
	}

	e.seq++
	ev.Seq = e.seq

	select {
	case e.ch <- ev:
	default:
		e.dropped++
		e.logger.Warn("progress channel full, dropped event %d (%s) for run %s", ev.Seq, ev.Kind, e.runID)
	}

	if e.sink != nil {
		e.sink(ev)
	}
}

// recordLineLocked appends one log line to the run snapshot; callers
// hold e.mu.
func (e *Emitter) recordLineLocked(severity core.Severity, message string) {
	e.logSeq++
	e.lines = append(e.lines, core.LogLine{
		RunID:     e.runID,
		Seq:       e.logSeq,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// persistLocked appends any unflushed lines to the session log; callers
// hold e.mu. Lines emitted before BindSession stay buffered. Store
// failures are logged and retried on the next emission, they never stall
// the run.
func (e *Emitter) persistLocked() {
	if e.store == nil || e.sessionID == "" || e.flushed == len(e.lines) {
		return
	}

	if err := e.store.AppendLog(context.Background(), e.sessionID, e.lines[e.flushed:]...); err != nil {
		e.logger.Warn("failed to persist %d log line(s) for session %s: %v", len(e.lines)-e.flushed, e.sessionID, err)
		return
	}
	e.flushed = len(e.lines)
}
