package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/applyforge/core"
)

// InMemoryStore is a volatile SessionStore implementation storing
// sessions in a process local map. It is safe for concurrent access and best
// suited for tests or ephemeral demo servers. Each returned session is cloned
// to prevent external mutation of internal state; all lifecycle transitions
// go through the Session's own guarded methods so the claim/finish/approve
// semantics are identical to the durable tier.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Create persists a new session. The id must not exist yet.
func (s *InMemoryStore) Create(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists: %w", sess.ID, core.ErrConcurrentModification)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a clone of the session or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// List returns clones of all sessions belonging to ownerID, newest first.
func (s *InMemoryStore) List(ctx context.Context, ownerID string) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Session
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

// Claim atomically moves an existing session into processing for runID.
func (s *InMemoryStore) Claim(ctx context.Context, id, runID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	if err := sess.BeginRun(runID); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Finish moves a claimed session into a terminal state.
func (s *InMemoryStore) Finish(ctx context.Context, id, runID string, state core.SessionState, docs []core.DocumentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	return sess.FinishRun(runID, state, docs)
}

// Approve sets the one-way lock, idempotently, and returns the session.
func (s *InMemoryStore) Approve(ctx context.Context, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	if err := sess.Approve(); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// AppendMessage adds a chat message to an existing session.
func (s *InMemoryStore) AppendMessage(ctx context.Context, id string, msg core.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	return sess.AddMessage(msg)
}

// AppendLog adds ordered progress log lines to an existing session.
func (s *InMemoryStore) AppendLog(ctx context.Context, id string, lines ...core.LogLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	return sess.AppendLog(lines...)
}

// SetJobContext stores the extracted job context on an existing session.
func (s *InMemoryStore) SetJobContext(ctx context.Context, id string, job core.JobContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	return sess.SetJob(job)
}

// Log returns the ordered log snapshot for the session.
func (s *InMemoryStore) Log(ctx context.Context, id string) ([]core.LogLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone().Log, nil
}

// ListStale returns sessions still processing whose last update predates the
// cutoff. Implements core.StaleSessionStore for janitor sweeps.
func (s *InMemoryStore) ListStale(ctx context.Context, cutoff time.Time) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Session
	for _, sess := range s.sessions {
		clone := sess.Clone()
		if clone.State == core.StateProcessing && clone.Updated.Before(cutoff) {
			out = append(out, clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.Before(out[j].Updated) })
	return out, nil
}
