// Package mongostore adapts a MongoDB database to remote.Store.
//
// Subscriptions are backed by change streams: every change event on the
// collection re-runs the subscribed query and delivers the full result, so
// listeners see whole snapshots rather than deltas. Change streams need a
// replica set; on a standalone server Subscribe fails.
//
// All calls go through a circuit breaker. remote.ErrNotFound does not count
// as a failure.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Options configures the adapter.
type Options struct {
	URI      string
	Database string
	Timeout  time.Duration

	// MaxFailures consecutive failures open the breaker for BreakerTimeout.
	MaxFailures    uint32
	BreakerTimeout time.Duration

	Logger logrus.FieldLogger
}

// Store implements remote.Store on MongoDB.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger

	mu       sync.Mutex
	watchers map[uint64]context.CancelFunc
	nextID   uint64
	closed   bool
	wg       sync.WaitGroup
}

var _ remote.Store = (*Store)(nil)

// Open connects to MongoDB and pings the server.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo database is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := opts.Logger.WithField("component", "mongostore")

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	log.WithField("database", opts.Database).Info("connected to mongo")
	return &Store{
		client:   client,
		db:       client.Database(opts.Database),
		timeout:  opts.Timeout,
		breaker:  newBreaker("mongo-store", opts.MaxFailures, opts.BreakerTimeout, log),
		log:      log,
		watchers: make(map[uint64]context.CancelFunc),
	}, nil
}

func newBreaker(name string, maxFailures uint32, timeout time.Duration, log logrus.FieldLogger) *gobreaker.CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 3
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, remote.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}

// Close stops every change stream and disconnects.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cancel := range s.watchers {
		cancel()
	}
	s.watchers = nil
	s.mu.Unlock()

	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) (*mongo.Collection, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, remote.ErrClosed
	}
	for _, c := range remote.Collections {
		if c == name {
			return s.db.Collection(name), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", remote.ErrUnknownCollection, name)
}

// exec runs fn through the breaker with the per-call timeout applied.
func (s *Store) exec(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return remote.Document{}, err
	}
	res, err := s.exec(ctx, func(ctx context.Context) (any, error) {
		var raw bson.M
		err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, remote.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
		}
		return toDocument(raw), nil
	})
	if err != nil {
		return remote.Document{}, err
	}
	return res.(remote.Document), nil
}

// Query implements remote.Store.
func (s *Store) Query(ctx context.Context, collection string, q remote.Query) ([]remote.Document, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	res, err := s.exec(ctx, func(ctx context.Context) (any, error) {
		return s.find(ctx, coll, q)
	})
	if err != nil {
		return nil, err
	}
	return res.([]remote.Document), nil
}

func (s *Store) find(ctx context.Context, coll *mongo.Collection, q remote.Query) ([]remote.Document, error) {
	cursor, err := coll.Find(ctx, BuildFilter(q), FindOptions(q))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", coll.Name(), err)
	}
	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to read %s cursor: %w", coll.Name(), err)
	}
	docs := make([]remote.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, toDocument(m))
	}
	return docs, nil
}

// Create implements remote.Store. Ids are generated client side so callers
// get a plain string key regardless of the server's default.
func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	doc := withID(id, fields)
	_, err = s.exec(ctx, func(ctx context.Context) (any, error) {
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to insert into %s: %w", collection, err)
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}
	doc := withID(id, fields)
	_, err = s.exec(ctx, func(ctx context.Context) (any, error) {
		_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return nil, fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
		}
		return nil, nil
	})
	return err
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.updateOne(ctx, collection, id, bson.M{"$set": fields})
}

// ArrayAppend implements remote.Store with $push.
func (s *Store) ArrayAppend(ctx context.Context, collection, id, field string, item any) error {
	return s.updateOne(ctx, collection, id, bson.M{"$push": bson.M{field: item}})
}

func (s *Store) updateOne(ctx context.Context, collection, id string, update bson.M) error {
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, func(ctx context.Context) (any, error) {
		res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, update)
		if err != nil {
			return nil, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
		}
		if res.MatchedCount == 0 {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, remote.ErrNotFound)
		}
		return nil, nil
	})
	return err
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	coll, err := s.collection(collection)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, func(ctx context.Context) (any, error) {
		if _, err := coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			return nil, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
		}
		return nil, nil
	})
	return err
}

// Subscribe implements remote.Store by watching the collection's change
// stream. The initial result is delivered from the watcher goroutine.
func (s *Store) Subscribe(collection string, q remote.Query, fn remote.SnapshotFunc) (remote.Unsubscribe, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", collection, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = stream.Close(context.Background())
		return nil, remote.ErrClosed
	}
	s.nextID++
	key := s.nextID
	s.watchers[key] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	var active atomic.Bool
	active.Store(true)
	log := s.log.WithFields(logrus.Fields{"collection": collection, "query": q.String()})

	deliver := func() {
		if !active.Load() {
			return
		}
		docs, err := s.Query(ctx, collection, q)
		if ctx.Err() != nil || !active.Load() {
			return
		}
		fn(docs, err)
	}

	go func() {
		defer s.wg.Done()
		defer stream.Close(context.Background())

		deliver()
		for stream.Next(ctx) {
			deliver()
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("change stream ended")
			if active.Load() {
				fn(nil, fmt.Errorf("change stream on %s: %w", collection, err))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			active.Store(false)
			cancel()
			s.mu.Lock()
			delete(s.watchers, key)
			s.mu.Unlock()
		})
	}, nil
}

func withID(id string, fields map[string]any) bson.M {
	doc := make(bson.M, len(fields)+1)
	for k, v := range fields {
		if k == "id" || k == "_id" {
			continue
		}
		doc[k] = v
	}
	doc["_id"] = id
	return doc
}

func toDocument(m bson.M) remote.Document {
	doc := remote.Document{Fields: make(map[string]any, len(m))}
	for k, v := range m {
		if k == "_id" {
			doc.ID = idString(v)
			continue
		}
		doc.Fields[k] = Normalize(v)
	}
	return doc
}
