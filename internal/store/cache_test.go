package store

import (
	"context"
	"testing"
)

// countingAccountStore wraps MemoryAccountStore and counts Document calls,
// so cache hits can be distinguished from a fault through to the backing
// store.
type countingAccountStore struct {
	*MemoryAccountStore
	documentCalls int
}

func (c *countingAccountStore) Document(ctx context.Context, id, docType string) (Document, bool, error) {
	c.documentCalls++
	return c.MemoryAccountStore.Document(ctx, id, docType)
}

func TestCachedAccountStoreServesDocumentFromCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingAccountStore{MemoryAccountStore: NewMemoryAccountStore(nil)}
	if err := inner.PutDocument(ctx, Document{ID: "alice@dim", Type: "visa", Data: []byte("v1")}); err != nil {
		t.Fatalf("put: %v", err)
	}

	cached, err := NewCachedAccountStore(inner, 16)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	d, ok, err := cached.Document(ctx, "alice@dim", "visa")
	if err != nil || !ok || string(d.Data) != "v1" {
		t.Fatalf("first lookup: doc=%+v ok=%v err=%v", d, ok, err)
	}
	if inner.documentCalls != 1 {
		t.Fatalf("expected first lookup to fault through to inner, got %d calls", inner.documentCalls)
	}

	d, ok, err = cached.Document(ctx, "alice@dim", "visa")
	if err != nil || !ok || string(d.Data) != "v1" {
		t.Fatalf("second lookup: doc=%+v ok=%v err=%v", d, ok, err)
	}
	if inner.documentCalls != 1 {
		t.Fatalf("expected second lookup to be served from cache, inner was called %d times", inner.documentCalls)
	}
}

func TestCachedAccountStorePutDocumentRefreshesCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingAccountStore{MemoryAccountStore: NewMemoryAccountStore(nil)}
	cached, err := NewCachedAccountStore(inner, 16)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	if err := cached.PutDocument(ctx, Document{ID: "alice@dim", Type: "visa", Data: []byte("v1")}); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	if err := cached.PutDocument(ctx, Document{ID: "alice@dim", Type: "visa", Data: []byte("v2")}); err != nil {
		t.Fatalf("put v2: %v", err)
	}

	d, ok, err := cached.Document(ctx, "alice@dim", "visa")
	if err != nil || !ok || string(d.Data) != "v2" {
		t.Fatalf("expected v2 served from refreshed cache entry, got doc=%+v ok=%v err=%v", d, ok, err)
	}
	if inner.documentCalls != 0 {
		t.Fatalf("expected PutDocument's cache refresh to avoid a Document fault, got %d calls", inner.documentCalls)
	}
}

func TestCachedAccountStoreMissPassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingAccountStore{MemoryAccountStore: NewMemoryAccountStore(nil)}
	cached, err := NewCachedAccountStore(inner, 16)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	_, ok, err := cached.Document(ctx, "ghost@dim", "visa")
	if err != nil || ok {
		t.Fatalf("expected no document found, got ok=%v err=%v", ok, err)
	}
	if inner.documentCalls != 1 {
		t.Fatalf("expected the miss to fault through to inner exactly once, got %d", inner.documentCalls)
	}
}

func TestCachedAccountStoreResolveANSPassesThrough(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryAccountStore(map[string]string{"archivist": "archivist@dim"})
	cached, err := NewCachedAccountStore(inner, 16)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	id, ok, err := cached.ResolveANS(ctx, "archivist")
	if err != nil || !ok || id != "archivist@dim" {
		t.Fatalf("resolve ans: id=%q ok=%v err=%v", id, ok, err)
	}
}
