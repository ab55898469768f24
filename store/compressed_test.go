package store

import (
	"context"
	"testing"
)

func TestCompressedStoreRoundTrips(t *testing.T) {
	inner := NewMemoryStore[[]byte]()
	cs := NewCompressedStore(inner)
	ctx := context.Background()

	payload := []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated")
	if err := cs.Save(ctx, "k", payload); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := inner.Load(ctx, "k")
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if string(raw) == string(payload) {
		t.Fatalf("expected the underlying store to hold compressed bytes, not the raw payload")
	}

	got, err := cs.Load(ctx, "k")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestCompressedStoreDelegatesLifecycle(t *testing.T) {
	inner := NewMemoryStore[[]byte]()
	cs := NewCompressedStore(inner)
	ctx := context.Background()

	if err := cs.Save(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, err := cs.Exists(ctx, "a"); err != nil || !ok {
		t.Fatalf("expected key to exist, ok=%v err=%v", ok, err)
	}
	if n, err := cs.Count(ctx); err != nil || n != 1 {
		t.Fatalf("expected count 1, got %d err=%v", n, err)
	}
	if err := cs.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := cs.Exists(ctx, "a"); ok {
		t.Fatalf("expected key to be gone after delete")
	}
}
