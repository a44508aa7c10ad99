// Package store defines the storage collaborator contract the repository
// core is written against: per-collection document operations with explicit
// duplicate-key signaling and optimistic revision checking. Two
// implementations exist, an in-memory store used by tests and a Neo4j-backed
// store used in production.
package store

import (
	"context"
	"errors"
)

// Reserved property names managed by the store.
const (
	KeyField = "_key"
	RevField = "_rev"
)

var (
	// ErrNotFound is returned when a document does not exist in a collection.
	ErrNotFound = errors.New("store: document not found")

	// ErrDuplicateKey is returned when an insert collides with an existing
	// key or a declared unique field. Every implementation must return this
	// exact sentinel; callers map it to their own taxonomy.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrRevisionMismatch is returned when a replace carries a revision that
	// no longer matches the stored one.
	ErrRevisionMismatch = errors.New("store: revision mismatch")
)

// Store is the storage collaborator. All operations are bounded synchronous
// calls; there is no client-side locking beyond the revision check on Replace.
type Store interface {
	// EnsureCollection creates the collection if needed and declares the
	// fields the store must keep unique across its documents.
	EnsureCollection(ctx context.Context, name string, unique ...string) error

	// Insert stores a new document and returns its key and revision. A
	// document without a key gets a store-assigned one. Colliding keys or
	// unique fields return ErrDuplicateKey.
	Insert(ctx context.Context, collection string, doc map[string]any) (key, rev string, err error)

	// Get returns the document with the given key, or ErrNotFound.
	Get(ctx context.Context, collection, key string) (map[string]any, error)

	// Exists reports whether a document with the given key exists.
	Exists(ctx context.Context, collection, key string) (bool, error)

	// Replace overwrites the document with the given key. A non-empty rev is
	// an optimistic precondition: ErrRevisionMismatch when the stored
	// revision differs. An empty rev disables the check.
	Replace(ctx context.Context, collection, key string, doc map[string]any, rev string) (newRev string, err error)

	// Remove deletes the document with the given key, or ErrNotFound.
	Remove(ctx context.Context, collection, key string) error

	// Find returns every document whose top-level fields equal the filter
	// values, plus the match count.
	Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, int, error)

	// Close releases the underlying connection, if any.
	Close(ctx context.Context) error
}
