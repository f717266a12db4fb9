package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/applyforge/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.SessionStore      = (*Store)(nil)
	_ core.StaleSessionStore = (*Store)(nil)
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "forge.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestStoreCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	sess := core.NewSession("s1", "owner-1")
	sess.Job = &core.JobContext{Company: "Acme", Role: "Platform Engineer"}
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
	if got.Job == nil || got.Job.Company != "Acme" {
		t.Fatalf("job context lost in round trip: %+v", got.Job)
	}

	err = store.Create(ctx, core.NewSession("s1", "owner-1"))
	if !errors.Is(err, core.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification for duplicate, got %v", err)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreClaimFinishCycle(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	sess := core.NewSession("s1", "o")
	sess.ActiveRun = "run-1"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Claim(ctx, "s1", "run-2"); !errors.Is(err, core.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	// Owning run may re-assert its claim.
	if _, err := store.Claim(ctx, "s1", "run-1"); err != nil {
		t.Fatalf("owner re-claim: %v", err)
	}

	doc := core.DocumentRef{Kind: core.DocumentResume, SourcePath: "p.md", ArtifactPath: "p.pdf", PageCount: 1}
	if err := store.Finish(ctx, "s1", "run-1", core.StateCompleted, []core.DocumentRef{doc}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, _ := store.Get(ctx, "s1")
	if got.State != core.StateCompleted || got.ActiveRun != "" {
		t.Fatalf("unexpected post-finish session: %+v", got)
	}
	if got.Documents[core.DocumentResume].ArtifactPath != "p.pdf" {
		t.Fatal("finish must merge document refs")
	}

	// Terminal session may be claimed by a fresh run.
	if _, err := store.Claim(ctx, "s1", "run-3"); err != nil {
		t.Fatalf("re-claim after terminal state: %v", err)
	}
}

func TestStoreFinishGuards(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	sess := core.NewSession("s1", "o")
	sess.ActiveRun = "run-1"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if err := store.Finish(ctx, "s1", "run-1", core.StateProcessing, nil); err == nil {
		t.Fatal("expected error for non-terminal finish state")
	}
	if err := store.Finish(ctx, "s1", "run-2", core.StateCompleted, nil); !errors.Is(err, core.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if err := store.Finish(ctx, "missing", "run-1", core.StateCompleted, nil); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreApproveIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	sess := core.NewSession("s1", "o")
	sess.ActiveRun = "run-1"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// Approving a processing session is a precondition failure.
	if _, err := store.Approve(ctx, "s1"); !errors.Is(err, core.ErrSessionProcessing) {
		t.Fatalf("expected ErrSessionProcessing, got %v", err)
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
		t.Fatal("repeat approve must not touch updated_at")
	}

	// Locked session rejects mutation and claiming.
	if err := store.AppendMessage(ctx, "s1", core.NewUserMessage("hi")); !errors.Is(err, core.ErrSessionLocked) {
		t.Fatalf("expected ErrSessionLocked, got %v", err)
	}
	if err := store.SetJobContext(ctx, "s1", core.JobContext{Company: "x"}); !errors.Is(err, core.ErrSessionLocked) {
		t.Fatalf("expected ErrSessionLocked, got %v", err)
	}
	if _, err := store.Claim(ctx, "s1", "run-9"); !errors.Is(err, core.ErrSessionLocked) {
		t.Fatalf("expected ErrSessionLocked, got %v", err)
	}
}

func TestStoreMessagesAndLogOrdering(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.Create(ctx, core.NewSession("s1", "o")); err != nil {
		t.Fatal(err)
	}

	user := core.NewUserMessage("generate for https://example.com/job")
	if err := store.AppendMessage(ctx, "s1", user); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 5; i++ {
		line := core.LogLine{
			RunID:     "run-1",
			Seq:       int64(i),
			Severity:  core.SeverityInfo,
			Message:   "step",
			Timestamp: time.Now().UTC(),
		}
		if err := store.AppendLog(ctx, "s1", line); err != nil {
			t.Fatal(err)
		}
	}

	asst := core.NewAssistantMessage("done", &core.GenerationResult{SessionID: "s1", RunID: "run-1"}, nil)
	if err := store.AppendMessage(ctx, "s1", asst); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != core.RoleUser || got.Messages[1].Role != core.RoleAssistant {
		t.Fatalf("message order lost: %+v", got.Messages)
	}
	if got.Messages[1].Result == nil || got.Messages[1].Result.RunID != "run-1" {
		t.Fatal("assistant result lost in round trip")
	}

	log, err := store.Log(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 5 {
		t.Fatalf("expected 5 log lines, got %d", len(log))
	}
	for i, line := range log {
		if line.Seq != int64(i+1) {
			t.Fatalf("line %d has seq %d", i, line.Seq)
		}
	}

	if _, err := store.Log(ctx, "missing"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

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
		t.Fatalf("expected [s2 s1], got %d sessions", len(got))
	}
}

func TestStoreListStaleAndSweep(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

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
		t.Fatalf("expected only s1 stale, got %d", len(stale))
	}

	if err := store.Finish(ctx, stale[0].ID, stale[0].ActiveRun, core.StateFailed, nil); err != nil {
		t.Fatalf("sweep finish: %v", err)
	}
	got, _ := store.Get(ctx, "s1")
	if got.State != core.StateFailed {
		t.Fatalf("expected failed after sweep, got %s", got.State)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "forge.db")

	store, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	sess := core.NewSession("s1", "o")
	sess.ActiveRun = "run-1"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendLog(ctx, "s1", core.LogLine{RunID: "run-1", Seq: 1, Severity: core.SeverityInfo, Message: "started", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	if err := store.Finish(ctx, "s1", "run-1", core.StateCompleted, nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close() //nolint:errcheck

	got, err := reopened.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != core.StateCompleted || len(got.Log) != 1 {
		t.Fatalf("state lost across reopen: %+v", got)
	}
}

func TestStoreConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	sess := core.NewSession("s1", "o")
	sess.State = core.StateCompleted
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
