package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/applyforge/core"
)

var _ core.ContentStore = (*FSStore)(nil)

func newFSStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	return store
}

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)

	path := core.ContentPath("o1", "s1", "resume.md")
	if err := store.Write(ctx, path, []byte("# Resume")); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := store.Read(ctx, path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "# Resume" {
		t.Fatalf("unexpected content: %q", string(out))
	}

	ok, err := store.Exists(ctx, path)
	if err != nil || !ok {
		t.Fatalf("expected present, got %v / %v", ok, err)
	}
}

func TestFSStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)

	if err := store.Write(ctx, "a/doc.md", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Write(ctx, "a/doc.md", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	out, err := store.Read(ctx, "a/doc.md")
	if err != nil || string(out) != "v2" {
		t.Fatalf("expected overwrite to v2, got %q / %v", string(out), err)
	}
}

func TestFSStoreReadMissing(t *testing.T) {
	store := newFSStore(t)
	if _, err := store.Read(context.Background(), "missing/doc.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)

	for _, p := range []string{
		core.ContentPath("o1", "s1", "resume.md"),
		core.ContentPath("o1", "s1", "resume.pdf"),
		core.ContentPath("o1", "s2", "cold_email.md"),
	} {
		if err := store.Write(ctx, p, []byte("x")); err != nil {
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
	if got[0] != "owners/o1/sessions/s1/resume.md" {
		t.Fatalf("expected sorted logical paths, got %v", got)
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)

	for _, p := range []string{"", "/etc/passwd", "../escape", "a/../../b"} {
		if err := store.Write(ctx, p, []byte("x")); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("path %q: expected ErrInvalidPath, got %v", p, err)
		}
	}
}

func TestFSStoreNoTempLeftovers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Write(ctx, "a/doc.md", []byte("data")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "doc.md" {
		t.Fatalf("expected only doc.md in dir, got %v", entries)
	}
}
