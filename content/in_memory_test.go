package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/applyforge/core"
)

// Interface compliance (compile-time assertions)
var _ core.ContentStore = (*InMemoryStore)(nil)

func TestInMemoryStoreWriteReadIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	data := []byte("hello")
	if err := store.Write(ctx, "owners/o1/sessions/s1/resume.md", data); err != nil {
		t.Fatalf("write: %v", err)
	}
	// mutate original slice
	data[0] = 'H'
	out, err := store.Read(ctx, "owners/o1/sessions/s1/resume.md")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "hello" { // should not reflect mutation
		t.Fatalf("expected 'hello', got %q", string(out))
	}
	// mutate returned slice
	out[0] = 'x'
	out2, _ := store.Read(ctx, "owners/o1/sessions/s1/resume.md")
	if string(out2) != "hello" { // original stored should be unchanged
		t.Fatalf("expected isolation, got %q", string(out2))
	}
}

func TestInMemoryStoreReadMissing(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.Read(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStoreExists(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	ok, err := store.Exists(ctx, "a/b")
	if err != nil || ok {
		t.Fatalf("expected absent, got %v / %v", ok, err)
	}
	if err := store.Write(ctx, "a/b", []byte("x")); err != nil {
		t.Fatal(err)
	}
	ok, err = store.Exists(ctx, "a/b")
	if err != nil || !ok {
		t.Fatalf("expected present, got %v / %v", ok, err)
	}
}

func TestInMemoryStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	paths := []string{
		core.ContentPath("o1", "s1", "resume.md"),
		core.ContentPath("o1", "s1", "resume.pdf"),
		core.ContentPath("o1", "s2", "cover_letter.md"),
		core.ContentPath("o2", "s3", "resume.md"),
	}
	for _, p := range paths {
		if err := store.Write(ctx, p, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.List(ctx, "owners/o1/sessions/s1/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 paths, got %v", got)
	}
	if got[0] != "owners/o1/sessions/s1/resume.md" || got[1] != "owners/o1/sessions/s1/resume.pdf" {
		t.Fatalf("expected sorted session paths, got %v", got)
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected all 4 paths for empty prefix, got %v", all)
	}
}

func TestInMemoryStoreRejectsBadPaths(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	for _, p := range []string{"", "/abs", "a//b", "a/./b", "a/../b", `a\b`} {
		if err := store.Write(ctx, p, []byte("x")); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("path %q: expected ErrInvalidPath, got %v", p, err)
		}
	}
}

func TestInMemoryStoreConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			path := fmt.Sprintf("owners/o/sessions/s/doc-%d.md", n)
			if err := store.Write(ctx, path, []byte("x")); err != nil {
				t.Errorf("write %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.List(ctx, "owners/o/sessions/s/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 16 {
		t.Fatalf("expected 16 paths, got %d", len(got))
	}
}
