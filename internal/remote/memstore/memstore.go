// Package memstore is an in-process remote.Store backed by go-memdb.
//
// Each collection is a memdb table indexed by document id. Write transactions
// are serialized by memdb, which makes array appends and merges atomic the
// same way a real document database applies them server side.
//
// Listeners are notified synchronously on the writing goroutine once the
// transaction commits. Every delivery re-reads the collection, so a listener
// always ends up with the latest committed state even when writes race.
// Callbacks must not write back to the store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/mschirtzinger/tracksync/internal/remote"
)

const idIndex = "id"

// record is the memdb row for one document.
type record struct {
	ID     string
	Fields map[string]any
}

type listener struct {
	collection string
	query      remote.Query
	fn         remote.SnapshotFunc

	mu     sync.Mutex // serializes deliveries
	active atomic.Bool
}

// Store implements remote.Store in memory.
type Store struct {
	db *memdb.MemDB

	mu        sync.Mutex
	listeners map[string]map[uint64]*listener
	nextID    uint64
	closed    bool
}

var _ remote.Store = (*Store)(nil)

// Schema returns the memdb schema with one table per collection.
func Schema(collections ...string) *memdb.DBSchema {
	if len(collections) == 0 {
		collections = remote.Collections
	}
	tables := make(map[string]*memdb.TableSchema, len(collections))
	for _, name := range collections {
		tables[name] = &memdb.TableSchema{
			Name: name,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:    idIndex,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		}
	}
	return &memdb.DBSchema{Tables: tables}
}

// New creates an empty store serving the default collections.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(Schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &Store{
		db:        db,
		listeners: make(map[string]map[uint64]*listener),
	}, nil
}

// Close detaches every listener. Later calls fail with remote.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, byID := range s.listeners {
		for _, l := range byID {
			l.active.Store(false)
		}
	}
	s.listeners = nil
	return nil
}

func (s *Store) check(collection string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return remote.ErrClosed
	}
	if _, ok := s.db.DBSchema().Tables[collection]; !ok {
		return fmt.Errorf("%w: %s", remote.ErrUnknownCollection, collection)
	}
	return nil
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	if err := ctx.Err(); err != nil {
		return remote.Document{}, err
	}
	if err := s.check(collection); err != nil {
		return remote.Document{}, err
	}

	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(collection, idIndex, id)
	if err != nil {
		return remote.Document{}, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	if raw == nil {
		return remote.Document{}, fmt.Errorf("%s/%s: %w", collection, id, remote.ErrNotFound)
	}
	rec := raw.(*record)
	return remote.Document{ID: rec.ID, Fields: remote.CloneFields(rec.Fields)}, nil
}

// Query implements remote.Store.
func (s *Store) Query(ctx context.Context, collection string, q remote.Query) ([]remote.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.check(collection); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.query(collection, q)
}

func (s *Store) query(collection string, q remote.Query) ([]remote.Document, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(collection, idIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
	}

	var all []remote.Document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*record)
		all = append(all, remote.Document{ID: rec.ID, Fields: remote.CloneFields(rec.Fields)})
	}
	return remote.Apply(all, q), nil
}

// Create implements remote.Store.
func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	err := s.write(ctx, collection, func(txn *memdb.Txn) error {
		return txn.Insert(collection, &record{ID: id, Fields: remote.CloneFields(fields)})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if id == "" {
		return fmt.Errorf("set %s: id is required", collection)
	}
	return s.write(ctx, collection, func(txn *memdb.Txn) error {
		return txn.Insert(collection, &record{ID: id, Fields: remote.CloneFields(fields)})
	})
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.write(ctx, collection, func(txn *memdb.Txn) error {
		rec, err := existing(txn, collection, id)
		if err != nil {
			return err
		}
		merged := remote.CloneFields(rec.Fields)
		for k, v := range fields {
			merged[k] = remote.CloneValue(v)
		}
		return txn.Insert(collection, &record{ID: id, Fields: merged})
	})
}

// ArrayAppend implements remote.Store.
func (s *Store) ArrayAppend(ctx context.Context, collection, id, field string, item any) error {
	return s.write(ctx, collection, func(txn *memdb.Txn) error {
		rec, err := existing(txn, collection, id)
		if err != nil {
			return err
		}
		fields := remote.CloneFields(rec.Fields)

		var list []any
		if cur, ok := fields[field]; ok && cur != nil {
			items, ok := remote.ToSlice(cur)
			if !ok {
				return fmt.Errorf("%s/%s: field %s is not an array", collection, id, field)
			}
			list = items
		}
		fields[field] = append(list, remote.CloneValue(item))
		return txn.Insert(collection, &record{ID: id, Fields: fields})
	})
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.write(ctx, collection, func(txn *memdb.Txn) error {
		raw, err := txn.First(collection, idIndex, id)
		if err != nil || raw == nil {
			return err
		}
		return txn.Delete(collection, raw)
	})
}

func existing(txn *memdb.Txn, collection, id string) (*record, error) {
	raw, err := txn.First(collection, idIndex, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, remote.ErrNotFound)
	}
	return raw.(*record), nil
}

// write runs fn in a write transaction and notifies listeners after commit.
func (s *Store) write(ctx context.Context, collection string, fn func(*memdb.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.check(collection); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()

	s.notify(collection)
	return nil
}

// Subscribe implements remote.Store. The current result is delivered before
// Subscribe returns.
func (s *Store) Subscribe(collection string, q remote.Query, fn remote.SnapshotFunc) (remote.Unsubscribe, error) {
	if err := s.check(collection); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	l := &listener{collection: collection, query: q, fn: fn}
	l.active.Store(true)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, remote.ErrClosed
	}
	s.nextID++
	key := s.nextID
	if s.listeners[collection] == nil {
		s.listeners[collection] = make(map[uint64]*listener)
	}
	s.listeners[collection][key] = l
	s.mu.Unlock()

	s.deliver(l)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			s.mu.Lock()
			if byID := s.listeners[collection]; byID != nil {
				delete(byID, key)
			}
			s.mu.Unlock()
		})
	}, nil
}

// ListenerCount reports how many listeners are attached to collection.
func (s *Store) ListenerCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[collection])
}

func (s *Store) notify(collection string) {
	s.mu.Lock()
	byID := s.listeners[collection]
	keys := make([]uint64, 0, len(byID))
	for k := range byID {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	targets := make([]*listener, 0, len(keys))
	for _, k := range keys {
		targets = append(targets, byID[k])
	}
	s.mu.Unlock()

	for _, l := range targets {
		s.deliver(l)
	}
}

func (s *Store) deliver(l *listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active.Load() {
		return
	}
	docs, err := s.query(l.collection, l.query)
	if err != nil {
		l.fn(nil, err)
		return
	}
	l.fn(docs, nil)
}
