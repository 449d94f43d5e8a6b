// Package engine wires the sync engine together.
//
// An Engine owns one cache, the remote store it talks to, and every
// component between them:
//  1. New builds the graph and optionally warm-starts the cache from a snapshot
//  2. Start attaches the user's live subscriptions and the snapshot ticker
//  3. Close tears everything down in dependency order
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/blob"
	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/config"
	"github.com/mschirtzinger/tracksync/internal/fanout"
	"github.com/mschirtzinger/tracksync/internal/orchestrator"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/mschirtzinger/tracksync/internal/remote/memstore"
	"github.com/mschirtzinger/tracksync/internal/remote/mongostore"
	"github.com/mschirtzinger/tracksync/internal/snapshot"
	"github.com/mschirtzinger/tracksync/internal/subscription"
	"github.com/sirupsen/logrus"
)

// Options configures New.
type Options struct {
	// UserID is the signed-in user. Empty runs without user scopes.
	UserID string

	OperationTimeout time.Duration
	Fanout           fanout.Options

	// SnapshotPath enables warm starts. SnapshotInterval > 0 also saves
	// periodically while running; a final save always happens on Close.
	SnapshotPath     string
	SnapshotInterval time.Duration

	// Blobs receives attachment uploads. Nil disables AttachFile.
	Blobs blob.Store

	// CloseStore is called last during Close.
	CloseStore func() error

	Logger logrus.FieldLogger
}

// Engine is one running instance of the sync engine.
type Engine struct {
	Cache *cache.Store
	Repo  *aggregate.Repository
	Ops   *orchestrator.Orchestrator
	Subs  *subscription.Manager

	store      remote.Store
	blobs      blob.Store
	snap       *snapshot.DB
	interval   time.Duration
	closeStore func() error
	userID     string
	log        logrus.FieldLogger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// New builds the engine on store. The caller must Close it.
func New(ctx context.Context, store remote.Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("remote store cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := opts.Logger

	c := cache.New()
	repo := aggregate.New(store, fanout.New(store, log, opts.Fanout), log, aggregate.Options{})
	e := &Engine{
		Cache: c,
		Repo:  repo,
		Ops: orchestrator.New(repo, c, orchestrator.Options{
			UserID:  opts.UserID,
			Timeout: opts.OperationTimeout,
			Logger:  log,
		}),
		Subs:       subscription.New(store, c, log),
		store:      store,
		blobs:      opts.Blobs,
		interval:   opts.SnapshotInterval,
		closeStore: opts.CloseStore,
		userID:     opts.UserID,
		log:        log.WithFields(logrus.Fields{"component": "engine", "user": opts.UserID}),
	}

	if opts.SnapshotPath != "" {
		snap, err := snapshot.Open(opts.SnapshotPath, log)
		if err != nil {
			e.teardown()
			return nil, err
		}
		e.snap = snap
		st, err := snap.Load(ctx, c, opts.UserID)
		switch {
		case errors.Is(err, snapshot.ErrEmpty):
			e.log.Debug("no snapshot to warm start from")
		case err != nil:
			e.log.WithError(err).Warn("failed to load snapshot, starting cold")
		default:
			e.log.WithFields(logrus.Fields{"saved_at": st.SavedAt, "counts": st.Counts}).Info("warm started from snapshot")
		}
	}
	return e, nil
}

// Open builds the remote store named by cfg and then the engine on top of it.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Engine, error) {
	store, closeStore, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var blobs blob.Store
	if cfg.Blob.Dir != "" {
		fs, err := blob.NewFS(cfg.Blob.Dir, blob.Options{BaseURL: cfg.Blob.BaseURL, Logger: log})
		if err != nil {
			_ = closeStore()
			return nil, err
		}
		blobs = fs
	}

	return New(ctx, store, Options{
		UserID:           cfg.User.ID,
		OperationTimeout: cfg.Operation.Timeout,
		Fanout:           fanout.Options{MaxFailures: cfg.Breaker.MaxFailures, Timeout: cfg.Breaker.Timeout},
		SnapshotPath:     cfg.Snapshot.Path,
		SnapshotInterval: cfg.Snapshot.Interval,
		Blobs:            blobs,
		CloseStore:       closeStore,
		Logger:           log,
	})
}

// OpenStore connects the remote store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (remote.Store, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		s, err := mongostore.Open(ctx, mongostore.Options{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			Timeout:        cfg.Mongo.Timeout,
			MaxFailures:    cfg.Breaker.MaxFailures,
			BreakerTimeout: cfg.Breaker.Timeout,
			Logger:         log,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverMemory, "":
		s, err := memstore.New()
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// UserID returns the signed-in user.
func (e *Engine) UserID() string { return e.userID }

// Scopes returns the live queries the signed-in user follows.
func (e *Engine) Scopes(ctx context.Context) ([]subscription.Scope, error) {
	if e.userID == "" {
		return []subscription.Scope{
			subscription.AllProjects(),
			subscription.AllTasks(),
			subscription.ApprovedUsers(),
		}, nil
	}
	admin := false
	u, err := e.Repo.Users.Get(ctx, e.userID)
	switch {
	case err == nil:
		admin = u.IsAdmin()
	case !errors.Is(err, remote.ErrNotFound):
		return nil, fmt.Errorf("failed to load user %s: %w", e.userID, err)
	}
	return subscription.ForUser(e.userID, admin), nil
}

// Start subscribes the user's scopes and starts the snapshot ticker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}
	if e.started {
		return nil
	}

	scopes, err := e.Scopes(ctx)
	if err != nil {
		return err
	}
	for i, s := range scopes {
		if err := e.Subs.Subscribe(s); err != nil {
			for _, done := range scopes[:i] {
				e.Subs.Unsubscribe(done)
			}
			return fmt.Errorf("failed to subscribe %s: %w", s, err)
		}
	}

	if e.snap != nil && e.interval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.wg.Add(1)
		go e.snapshotLoop(loopCtx)
	}
	e.started = true
	e.log.WithField("scopes", len(scopes)).Info("engine started")
	return nil
}

// Run starts the engine and blocks until ctx is done, then closes it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.log.Info("shutdown signal received")
	return e.Close()
}

// SaveSnapshot writes the cache to the snapshot database.
func (e *Engine) SaveSnapshot(ctx context.Context) error {
	if e.snap == nil {
		return errors.New("snapshots are not enabled")
	}
	return e.snap.Save(ctx, e.Cache, e.userID)
}

// SnapshotStats describes the stored snapshot.
func (e *Engine) SnapshotStats(ctx context.Context) (snapshot.Stats, error) {
	if e.snap == nil {
		return snapshot.Stats{}, errors.New("snapshots are not enabled")
	}
	return e.snap.Stats(ctx)
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.snap.Save(ctx, e.Cache, e.userID); err != nil && ctx.Err() == nil {
				e.log.WithError(err).Warn("periodic snapshot failed")
			}
		}
	}
}

// Close tears the engine down: listeners first so no snapshot lands after
// teardown, then in-flight operations, then the final snapshot, the cache
// and the store. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	return e.teardown()
}

func (e *Engine) teardown() error {
	var errs []error

	e.Subs.Close()
	e.Ops.Close()

	if e.snap != nil {
		if err := e.snap.Save(context.Background(), e.Cache, e.userID); err != nil {
			errs = append(errs, fmt.Errorf("failed to save final snapshot: %w", err))
		}
		if err := e.snap.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.Cache.Close()

	if e.closeStore != nil {
		if err := e.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	e.log.Info("engine stopped")
	return errors.Join(errs...)
}
