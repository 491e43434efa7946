package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := store.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Put err: %v", err)
	}
	if err := store.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("Put overwrite err: %v", err)
	}

	got, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get err=%v ok=%v", err, ok)
	}
	if string(got) != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete missing err: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	value := []byte("abc")
	if err := store.Put(ctx, "k", value); err != nil {
		t.Fatalf("Put err: %v", err)
	}
	value[0] = 'z'

	got, _, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("store kept a reference to the caller's slice: %q", got)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemory()
	_ = store.Close()
	if err := store.Put(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "companion.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	defer func() { _ = store.Close() }()

	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companion.db")
	ctx := context.Background()

	first, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	if err := first.Put(ctx, "chat_messages:default", []byte(`[]`)); err != nil {
		t.Fatalf("Put err: %v", err)
	}
	_ = first.Close()

	second, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen err: %v", err)
	}
	defer func() { _ = second.Close() }()

	got, ok, err := second.Get(ctx, "chat_messages:default")
	if err != nil || !ok || string(got) != `[]` {
		t.Fatalf("expected persisted value, got %q ok=%v err=%v", got, ok, err)
	}
}
