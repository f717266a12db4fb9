package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionState enumerates the lifecycle states of a Session.
type SessionState string

const (
	// StateProcessing marks a session owned by one active orchestration run.
	StateProcessing SessionState = "processing"
	// StateCompleted marks a session whose run produced at least a
	// degraded-success primary document.
	StateCompleted SessionState = "completed"
	// StateFailed marks a session whose run ended before any primary
	// content existed.
	StateFailed SessionState = "failed"
)

// Terminal reports whether the state is one of the run-exit states.
// The orthogonal Locked flag is not a state; see Session.Locked.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Session represents one generation lineage: lifecycle state, the extracted
// job context, references to every generated document, an append-only chat
// log and an append-only progress log. It is safe for concurrent access.
//
// Contract:
//   - State transitions go processing -> completed|failed, set exactly once
//     per run by the orchestrator; Locked is one-way and set only via Approve
//   - Every mutator delegates the lock guard to one shared check
//     (EnsureMutable / ensureMutableLocked), never re-implements it
//   - Messages and Log are append-only; entries are never edited or removed
//   - Clone performs deep copies of maps/slices for safe divergence
type Session struct {
	ID        string                       `json:"id"`
	OwnerID   string                       `json:"owner_id"`
	State     SessionState                 `json:"state"`
	Locked    bool                         `json:"locked"`
	ActiveRun string                       `json:"active_run,omitempty"`
	Job       *JobContext                  `json:"job,omitempty"`
	Documents map[DocumentKind]DocumentRef `json:"documents"`
	Messages  []ChatMessage                `json:"messages"`
	Log       []LogLine                    `json:"log"`
	Created   time.Time                    `json:"created"`
	Updated   time.Time                    `json:"updated"`
	mu        sync.RWMutex
}

// NewSession creates a session in StateProcessing owned by ownerID.
func NewSession(id, ownerID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		OwnerID:   ownerID,
		State:     StateProcessing,
		Documents: map[DocumentKind]DocumentRef{},
		Messages:  []ChatMessage{},
		Log:       []LogLine{},
		Created:   now,
		Updated:   now,
	}
}

// EnsureMutable is the single shared lock guard. Every mutation path, in
// stores and orchestrator alike, rejects through this check rather than
// re-reading the flag itself.
func (s *Session) EnsureMutable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ensureMutableLocked()
}

// ensureMutableLocked is the guard body; callers must hold s.mu.
func (s *Session) ensureMutableLocked() error {
	if s.Locked {
		return ErrSessionLocked
	}
	return nil
}

// BeginRun is the compare-and-swap entry into StateProcessing. It fails with
// ErrSessionLocked on a locked session and ErrConcurrentModification when a
// different run already owns the session, never silently reassigning it.
func (s *Session) BeginRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMutableLocked(); err != nil {
		return err
	}
	if s.State == StateProcessing && s.ActiveRun != "" && s.ActiveRun != runID {
		return ErrConcurrentModification
	}
	s.State = StateProcessing
	s.ActiveRun = runID
	s.Updated = time.Now().UTC()
	return nil
}

// FinishRun moves the session from processing into a terminal state and
// merges the run's document references. Only the owning run may finish it.
func (s *Session) FinishRun(runID string, state SessionState, docs []DocumentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMutableLocked(); err != nil {
		return err
	}
	if !state.Terminal() {
		return fmt.Errorf("finish requires a terminal state, got %q", state)
	}
	if s.ActiveRun != runID {
		return fmt.Errorf("run %s does not own session %s: %w", runID, s.ID, ErrConcurrentModification)
	}
	for _, d := range docs {
		s.Documents[d.Kind] = d
	}
	s.State = state
	s.ActiveRun = ""
	s.Updated = time.Now().UTC()
	return nil
}

// Approve sets the one-way Locked flag. Approving an already-locked session
// is a no-op; approving a session still in processing is a precondition
// failure (the run owns it until a terminal state is reached).
func (s *Session) Approve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Locked {
		return nil
	}
	if s.State == StateProcessing {
		return ErrSessionProcessing
	}
	s.Locked = true
	s.Updated = time.Now().UTC()
	return nil
}

// AddMessage appends a chat message to the append-only chat log.
func (s *Session) AddMessage(msg ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMutableLocked(); err != nil {
		return err
	}
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now().UTC()
	return nil
}

// AppendLog appends progress log lines preserving their order.
func (s *Session) AppendLog(lines ...LogLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMutableLocked(); err != nil {
		return err
	}
	s.Log = append(s.Log, lines...)
	s.Updated = time.Now().UTC()
	return nil
}

// SetJob stores the extracted job context for the session.
func (s *Session) SetJob(job JobContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMutableLocked(); err != nil {
		return err
	}
	jc := job.Clone()
	s.Job = &jc
	s.Updated = time.Now().UTC()
	return nil
}

// SetDocument stores (or replaces) the reference for one document kind.
func (s *Session) SetDocument(ref DocumentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMutableLocked(); err != nil {
		return err
	}
	s.Documents[ref.Kind] = ref
	s.Updated = time.Now().UTC()
	return nil
}

// LastResult returns the aggregated result bundled into the most recent
// assistant message, or nil when no run has finished yet.
func (s *Session) LastResult() *GenerationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant && s.Messages[i].Result != nil {
			return s.Messages[i].Result
		}
	}
	return nil
}

// Status derives the top-level snapshot exposed on the pull path. It is
// computable from the state field plus the last assistant message alone.
func (s *Session) Status() SessionStatus {
	partial := false
	if res := s.LastResult(); res != nil {
		partial = res.PartialFailure
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionStatus{
		SessionID:      s.ID,
		State:          s.State,
		Locked:         s.Locked,
		PartialFailure: partial,
		Updated:        s.Updated,
	}
}

// SessionStatus is the snapshot of the fields a status poll needs.
type SessionStatus struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	Locked         bool         `json:"locked"`
	PartialFailure bool         `json:"partial_failure"`
	Updated        time.Time    `json:"updated"`
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		State:     s.State,
		Locked:    s.Locked,
		ActiveRun: s.ActiveRun,
		Documents: make(map[DocumentKind]DocumentRef, len(s.Documents)),
		Messages:  make([]ChatMessage, len(s.Messages)),
		Log:       make([]LogLine, len(s.Log)),
		Created:   s.Created,
		Updated:   s.Updated,
	}
	if s.Job != nil {
		jc := s.Job.Clone()
		clone.Job = &jc
	}
	for k, v := range s.Documents {
		clone.Documents[k] = v
	}
	copy(clone.Messages, s.Messages)
	copy(clone.Log, s.Log)
	return clone
}

// SessionStore persists sessions and their evolving lifecycle, chat and log
// history. Implementations must be safe for concurrent use and must keep the
// CAS semantics of Claim/Finish and the idempotency of Approve, since the
// orchestrator relies on the store, not on single-threaded execution, to
// serialize runs against one session id.
type SessionStore interface {
	// Create persists a new session; the id must not exist yet.
	Create(ctx context.Context, sess *Session) error

	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// List returns all sessions belonging to ownerID, newest first.
	List(ctx context.Context, ownerID string) ([]*Session, error)

	// Claim atomically moves an existing session into StateProcessing on
	// behalf of runID. Locked sessions yield ErrSessionLocked, sessions
	// already owned by another run yield ErrConcurrentModification.
	Claim(ctx context.Context, id, runID string) (*Session, error)

	// Finish moves a claimed session into a terminal state, merging the
	// run's document references. Only the claiming run may finish.
	Finish(ctx context.Context, id, runID string, state SessionState, docs []DocumentRef) error

	// Approve sets the one-way lock and returns the session. Approving an
	// already-locked session returns the unchanged session without error.
	Approve(ctx context.Context, id string) (*Session, error)

	// AppendMessage appends to the session's chat log.
	AppendMessage(ctx context.Context, id string, msg ChatMessage) error

	// AppendLog appends ordered progress log lines.
	AppendLog(ctx context.Context, id string, lines ...LogLine) error

	// SetJobContext stores the extracted job context.
	SetJobContext(ctx context.Context, id string, job JobContext) error

	// Log returns the full ordered log snapshot for the pull path. Repeated
	// calls during an active run must return prefix-consistent, growing
	// sequences.
	Log(ctx context.Context, id string) ([]LogLine, error)
}

// StaleSessionStore is implemented by stores that can enumerate sessions
// stuck in StateProcessing, enabling crash recovery sweeps.
type StaleSessionStore interface {
	SessionStore

	// ListStale returns sessions still processing whose last update is
	// older than the cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*Session, error)
}
