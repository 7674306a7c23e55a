package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDocumentCacheSize is the bound on the meta/document LRU cache
// fronting an AccountStore's Document lookups (§6: "document command
// handling does not fault to disk on every handshake").
const DefaultDocumentCacheSize = 4096

// CachedAccountStore wraps an AccountStore with an LRU cache over
// Document, so the handshake/document/ans command paths (verify.go,
// resolver.go, processor.go) stop faulting to the backing store — memory
// or sqlite — on every lookup. PutDocument and ResolveANS pass straight
// through: PutDocument refreshes the cache entry it just wrote, and
// ResolveANS is already a single indexed lookup in both backings.
type CachedAccountStore struct {
	inner AccountStore
	cache *lru.Cache[string, Document]
}

// NewCachedAccountStore wraps inner with an LRU document cache bounded at
// capacity entries. capacity <= 0 uses DefaultDocumentCacheSize.
func NewCachedAccountStore(inner AccountStore, capacity int) (*CachedAccountStore, error) {
	if capacity <= 0 {
		capacity = DefaultDocumentCacheSize
	}
	cache, err := lru.New[string, Document](capacity)
	if err != nil {
		return nil, fmt.Errorf("new document cache: %w", err)
	}
	return &CachedAccountStore{inner: inner, cache: cache}, nil
}

// Document implements AccountStore, serving from the LRU cache before
// falling back to inner.
func (c *CachedAccountStore) Document(ctx context.Context, id, docType string) (Document, bool, error) {
	key := docKey(id, docType)
	if d, ok := c.cache.Get(key); ok {
		return d, true, nil
	}
	d, ok, err := c.inner.Document(ctx, id, docType)
	if err != nil || !ok {
		return d, ok, err
	}
	c.cache.Add(key, d)
	return d, true, nil
}

// PutDocument implements AccountStore, writing through to inner and
// refreshing the cached entry so a subsequent Document call doesn't
// observe a stale document.
func (c *CachedAccountStore) PutDocument(ctx context.Context, doc Document) error {
	if err := c.inner.PutDocument(ctx, doc); err != nil {
		return err
	}
	c.cache.Add(docKey(doc.ID, doc.Type), doc)
	return nil
}

// ResolveANS implements AccountStore, passing straight through to inner.
func (c *CachedAccountStore) ResolveANS(ctx context.Context, name string) (string, bool, error) {
	return c.inner.ResolveANS(ctx, name)
}
