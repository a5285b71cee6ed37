package kvstore

import (
	"context"
	"errors"
	"testing"
)

// exerciseStore checks the behaviour every backend shares.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "sess-1", "cart"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on empty store, got %v", err)
	}
	if err := store.Put(ctx, "sess-1", "cart", []byte(`[{"id":"a"}]`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "sess-1", "attempt:1", []byte(`{}`)); err != nil {
		t.Fatalf("put attempt: %v", err)
	}
	if err := store.Put(ctx, "sess-2", "cart", []byte(`[]`)); err != nil {
		t.Fatalf("put other scope: %v", err)
	}

	got, err := store.Get(ctx, "sess-1", "cart")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `[{"id":"a"}]` {
		t.Fatalf("unexpected value %q", got)
	}

	listed, err := store.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || string(listed["attempt:1"]) != `{}` {
		t.Fatalf("unexpected listing %v", listed)
	}

	if err := store.Delete(ctx, "sess-1", "cart"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "sess-1", "cart"); err != nil {
		t.Fatalf("delete missing key should succeed, got %v", err)
	}
	if _, err := store.Get(ctx, "sess-1", "cart"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := store.Get(ctx, "sess-2", "cart"); err != nil {
		t.Fatalf("other scope must be untouched: %v", err)
	}

	if err := store.Put(ctx, "", "cart", nil); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if _, err := store.List(ctx, " "); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid scope, got %v", err)
	}
}

func TestScopedBindsScope(t *testing.T) {
	store := NewMemoryStore(0)
	scoped := Scope(store, "sess-9")
	ctx := context.Background()

	if err := scoped.Put(ctx, "cart", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Get(ctx, "sess-9", "cart"); err != nil {
		t.Fatalf("expected value under bound scope: %v", err)
	}
	if scoped.Name() != "sess-9" {
		t.Fatalf("unexpected scope %q", scoped.Name())
	}
	if err := scoped.Delete(ctx, "cart"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := scoped.Get(ctx, "cart"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
