// Package store provides document persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoDocument is returned when a lookup matches no document.
var ErrNoDocument = errors.New("document not found")

// MergeFunc computes the document that replaces stored.
type MergeFunc func(stored json.RawMessage) (any, error)

// DocumentStore persists JSON documents grouped into named collections and
// keyed by a caller-chosen id.
type DocumentStore interface {
	// EnsureCollection creates the named collection if it does not exist.
	EnsureCollection(ctx context.Context, name string) error

	// Collections lists the known collection names.
	Collections(ctx context.Context) ([]string, error)

	// FindOne returns the raw document stored under id, or ErrNoDocument.
	FindOne(ctx context.Context, collection, id string) (json.RawMessage, error)

	// Upsert replaces the document stored under id, inserting it if absent.
	// The write is a single statement and therefore atomic per id.
	Upsert(ctx context.Context, collection, id string, doc any) error

	// Merge inserts doc under id, or, when a document already exists,
	// replaces it with the result of apply on the stored body. The read and
	// the write happen in one transaction. An error from apply aborts the
	// write and is returned unwrapped. Merge returns the persisted body.
	Merge(ctx context.Context, collection, id string, doc any, apply MergeFunc) (json.RawMessage, error)

	// ListAll returns every document in the collection ordered by the
	// top-level numeric or string field sortKey.
	ListAll(ctx context.Context, collection, sortKey string, descending bool) ([]json.RawMessage, error)

	// AppendUnique atomically appends value to the top-level string array
	// field of the document unless it is already present. It reports whether
	// the value was appended and returns ErrNoDocument if id is unknown.
	AppendUnique(ctx context.Context, collection, id, field, value string) (bool, error)

	// Delete removes the document stored under id. Deleting a missing
	// document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
