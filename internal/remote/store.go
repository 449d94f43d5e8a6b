// Package remote defines the document-store capability the sync engine depends on.
//
// The engine never talks to a database directly. Everything it needs from the
// remote side is expressed by the Store interface: keyed reads and writes,
// field queries, array appends on embedded collections, and push-based change
// subscriptions. Concrete adapters live in sub-packages:
//
//   - memstore: in-process store backed by go-memdb, used by tests and the
//     ephemeral "memory" driver
//   - mongostore: MongoDB adapter using change streams for subscriptions
package remote

import (
	"context"
	"errors"
)

// Collection names of the persisted schema.
const (
	CollectionUsers         = "users"
	CollectionProjects      = "projects"
	CollectionTasks         = "tasks"
	CollectionNotifications = "notifications"
)

// Collections lists every collection the engine reads or writes.
var Collections = []string{
	CollectionUsers,
	CollectionProjects,
	CollectionTasks,
	CollectionNotifications,
}

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnknownCollection is returned for a collection the store does not serve.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("store closed")
)

// Document is a raw document as exchanged with the store.
//
// Fields holds plain Go values: strings, numbers, bools, time.Time,
// []any and map[string]any. Adapters normalize their wire types to these
// before handing documents to the engine.
type Document struct {
	ID     string
	Fields map[string]any
}

// SnapshotFunc receives the complete result set of a subscribed query.
// err is non-nil when the listener failed; docs is nil in that case.
type SnapshotFunc func(docs []Document, err error)

// Unsubscribe detaches a listener. It is safe to call more than once.
type Unsubscribe func()

// Store is the capability surface of the remote document database.
type Store interface {
	// Get returns the document with the given id or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query returns the documents matching q.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Create inserts a new document and returns its generated id.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Set creates or fully replaces the document with a caller-chosen id.
	Set(ctx context.Context, collection, id string, fields map[string]any) error

	// Update merges fields into an existing document. Missing documents
	// yield ErrNotFound.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// ArrayAppend appends item to the array stored in field without
	// rewriting the rest of the document.
	ArrayAppend(ctx context.Context, collection, id, field string, item any) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Subscribe attaches a listener that receives the full result of q
	// whenever it may have changed, starting with the current result.
	Subscribe(collection string, q Query, fn SnapshotFunc) (Unsubscribe, error)
}
