// Package store defines the persistence contracts for offline messages,
// login state, and neighbor/provider tables (§3, §4.9, §6), plus two
// concrete backings: an in-memory implementation (used by tests and as
// the Dispatcher's default) and a modernc.org/sqlite-backed implementation
// for durable station deployments.
package store

import (
	"context"

	"github.com/dim-network/station/internal/message"
)

// MessageStore is the offline store contract (§4.9): per-receiver FIFO
// with a bound, deduplicated by signature.
type MessageStore interface {
	// Save appends msg to receiver's queue. Returns false if a message with
	// the same signature is already stored for receiver (idempotent).
	Save(ctx context.Context, receiver string, msg *message.ReliableMessage) (bool, error)

	// Remove deletes the message with the given signature key from
	// receiver's queue. Idempotent: removing twice is a no-op.
	Remove(ctx context.Context, receiver string, signatureKey string) error

	// Fetch returns a contiguous slice of receiver's stored messages
	// starting at start (negative counts from the tail) up to limit
	// entries, plus the count of messages not yet returned.
	Fetch(ctx context.Context, receiver string, start, limit int) ([]*message.ReliableMessage, int, error)

	// Count returns the number of messages currently stored for receiver.
	Count(ctx context.Context, receiver string) (int, error)
}

// LoginStore persists the latest LoginCommand snapshot per user (§3,
// consulted by the Roamer).
type LoginStore interface {
	SaveLogin(ctx context.Context, snap message.LoginSnapshot) error
	Login(ctx context.Context, user string) (message.LoginSnapshot, bool, error)
}

// Provider describes a service provider's chosen order (§3 Neighbor &
// provider tables).
type Provider struct {
	ID     string
	Chosen int
}

// NeighborStation describes a peer station entry (§3).
type NeighborStation struct {
	ID      string
	Host    string
	Port    int
	Chosen  int
	Provider string
}

// NeighborStore provides the configured neighbor/provider tables the
// broadcast deliver enumerates (§4.7).
type NeighborStore interface {
	Providers(ctx context.Context) ([]Provider, error)
	Stations(ctx context.Context, providerID string) ([]NeighborStation, error)
}

// Document is an entity meta/visa document (§6: public/{address}/documents/{type}.js).
type Document struct {
	ID   string
	Type string
	Data []byte
	Time int64
}

// AccountStore provides read access to entity meta/documents, used by the
// content processor (handshake/document commands) and the ANS resolver.
type AccountStore interface {
	Document(ctx context.Context, id string, docType string) (Document, bool, error)
	PutDocument(ctx context.Context, doc Document) error
	ResolveANS(ctx context.Context, name string) (string, bool, error)
}
