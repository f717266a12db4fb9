package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/applyforge/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.SessionStore      = (*InMemoryStore)(nil)
	_ core.StaleSessionStore = (*InMemoryStore)(nil)
)

func TestInMemoryStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess := core.NewSession("s1", "owner-1")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "s1" || got.OwnerID != "owner-1" || got.State != core.StateProcessing {
		t.Fatalf("unexpected session: %+v", got)
	}

	// Returned clone must not alias store internals.
	got.OwnerID = "mutated"
	again, _ := store.Get(ctx, "s1")
	if again.OwnerID != "owner-1" {
		t.Fatal("store state leaked through returned clone")
	}
}

func TestInMemoryStoreCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Create(ctx, core.NewSession("s1", "o")); err != nil {
		t.Fatal(err)
	}
	err := store.Create(ctx, core.NewSession("s1", "o"))
	if !errors.Is(err, core.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestInMemoryStoreGetMissing(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInMemoryStoreClaimFinishCycle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess := core.NewSession("s1", "o")
	sess.ActiveRun = "run-1"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// A second run must not steal the processing session.
	if _, err := store.Claim(ctx, "s1", "run-2"); !errors.Is(err, core.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	doc := core.DocumentRef{Kind: core.DocumentResume, SourcePath: "p.md", PageCount: 1}
	if err := store.Finish(ctx, "s1", "run-1", core.StateCompleted, []core.DocumentRef{doc}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, _ := store.Get(ctx, "s1")
	if got.State != core.StateCompleted || got.ActiveRun != "" {
		t.Fatalf("unexpected post-finish session: %+v", got)
	}
	if got.Documents[core.DocumentResume].SourcePath != "p.md" {
		t.Fatal("finish must merge document refs")
	}

	// Terminal session may be re-claimed by a new run.
	if _, err := store.Claim(ctx, "s1", "run-3"); err != nil {
		t.Fatalf("re-claim after terminal state: %v", err)
	}
}

func TestInMemoryStoreFinishWrongRun(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess := core.NewSession("s1", "o")
	sess.ActiveRun = "run-1"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	err := store.Finish(ctx, "s1", "run-2", core.StateCompleted, nil)
	if !errors.Is(err, core.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestInMemoryStoreApproveIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess := core.NewSession("s1", "o")
	sess.ActiveRun = "run-1"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := store.Finish(ctx, "s1", "run-1", core.StateCompleted, nil); err != nil {
		t.Fatal(err)
	}

	first, err := store.Approve(ctx, "s1")
	if err != nil || !first.Locked {
		t.Fatalf("approve: %v / %+v", err, first)
	}

	second, err := store.Approve(ctx, "s1")
	if err != nil || !second.Locked {
		t.Fatalf("repeat approve must be a no-op success: %v", err)
	}
	if !second.Updated.Equal(first.Updated) {
		t.Fatal("repeat approve must not touch Updated")
	}

	// Locked session rejects mutation and claiming.
	if err := store.AppendMessage(ctx, "s1", core.NewUserMessage("hi")); !errors.Is(err, core.ErrSessionLocked) {
		t.Fatalf("expected ErrSessionLocked, got %v", err)
	}
	if _, err := store.Claim(ctx, "s1", "run-9"); !errors.Is(err, core.ErrSessionLocked) {
		t.Fatalf("expected ErrSessionLocked, got %v", err)
	}
}

func TestInMemoryStoreApproveProcessing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess := core.NewSession("s1", "o")
	sess.ActiveRun = "run-1"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Approve(ctx, "s1"); !errors.Is(err, core.ErrSessionProcessing) {
		t.Fatalf("expected ErrSessionProcessing, got %v", err)
	}
}

func TestInMemoryStoreAppendLogOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Create(ctx, core.NewSession("s1", "o")); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		line := core.LogLine{RunID: "run-1", Seq: int64(i), Severity: core.SeverityInfo, Message: "step", Timestamp: time.Now().UTC()}
		if err := store.AppendLog(ctx, "s1", line); err != nil {
			t.Fatal(err)
		}
	}

	log, err := store.Log(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(log))
	}
	for i, line := range log {
		if line.Seq != int64(i+1) {
			t.Fatalf("line %d has seq %d", i, line.Seq)
		}
	}
}

func TestInMemoryStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	older := core.NewSession("s1", "o")
	older.Created = time.Now().UTC().Add(-time.Hour)
	newer := core.NewSession("s2", "o")
	other := core.NewSession("s3", "someone-else")

	for _, sess := range []*core.Session{older, newer, other} {
		if err := store.Create(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.List(ctx, "o")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "s2" || got[1].ID != "s1" {
		t.Fatalf("expected [s2 s1], got %+v", got)
	}
}

func TestInMemoryStoreListStale(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	stuck := core.NewSession("s1", "o")
	stuck.ActiveRun = "run-dead"
	stuck.Updated = time.Now().UTC().Add(-time.Hour)
	fresh := core.NewSession("s2", "o")
	fresh.ActiveRun = "run-live"

	if err := store.Create(ctx, stuck); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	stale, err := store.ListStale(ctx, time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != "s1" {
		t.Fatalf("expected only s1 stale, got %+v", stale)
	}

	// The sweep path: fail the stuck session using its recorded run id.
	if err := store.Finish(ctx, stale[0].ID, stale[0].ActiveRun, core.StateFailed, nil); err != nil {
		t.Fatalf("sweep finish: %v", err)
	}
	got, _ := store.Get(ctx, "s1")
	if got.State != core.StateFailed {
		t.Fatalf("expected failed after sweep, got %s", got.State)
	}
}

func TestInMemoryStoreConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess := core.NewSession("s1", "o")
	sess.State = core.StateCompleted
	sess.ActiveRun = ""
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Claim(ctx, "s1", core.NewID()); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", winners)
	}
}
