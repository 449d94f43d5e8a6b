// Package orchestrator runs named mutations and fetches against the
// aggregate repository and applies their results to the cache.
//
// Every operation goes through the same three phases:
//
//	pending    cache status for the entity kind: loading=true, error cleared
//	run        the repository call; writes are always followed by a re-read
//	fulfilled  the re-read entity is applied to the cache, loading=false
//	rejected   nothing is applied, loading=false, error=reason
//
// Operations on the same entity are not serialized; whichever finishes last
// wins in the cache. Each call returns a Handle. Cancelling it keeps the
// remote call running but guarantees its result never reaches the cache.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrClosed is returned by operations started after Close.
var ErrClosed = errors.New("orchestrator closed")

// Options configures an Orchestrator.
type Options struct {
	// UserID is the signed-in user. It decides membership of the
	// user-scoped cache collections.
	UserID string

	// Timeout bounds each operation's remote work. Zero means 30s.
	Timeout time.Duration

	Logger logrus.FieldLogger
}

// Orchestrator executes operations. It is safe for concurrent use.
type Orchestrator struct {
	repo    *aggregate.Repository
	cache   *cache.Store
	userID  string
	timeout time.Duration
	log     logrus.FieldLogger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an Orchestrator writing into c.
func New(repo *aggregate.Repository, c *cache.Store, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		repo:    repo,
		cache:   c,
		userID:  opts.UserID,
		timeout: opts.Timeout,
		log:     opts.Logger.WithField("component", "orchestrator"),
	}
}

// UserID returns the signed-in user.
func (o *Orchestrator) UserID() string { return o.userID }

// Actor returns the signed-in user as a mutation actor.
func (o *Orchestrator) Actor() aggregate.Actor {
	return aggregate.Actor{ID: o.userID}
}

// Close stops accepting operations and waits for in-flight ones to settle.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}

// run executes call in the background and applies its result through apply.
func run[T any](o *Orchestrator, ctx context.Context, op string, kind model.Kind, call func(context.Context) (T, error), apply func(T)) *Handle[T] {
	h := newHandle[T](op, ulid.Make().String())
	log := o.log.WithFields(logrus.Fields{"op": op, "request_id": h.requestID})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		var zero T
		h.settle(zero, &OperationError{Op: op, RequestID: h.requestID, Reason: "engine is shutting down", Err: ErrClosed})
		return h
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.cache.SetPending(kind)
	log.Debug("operation pending")

	// Operations run to completion even if the caller goes away.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)

	go func() {
		defer o.wg.Done()
		defer cancel()

		start := time.Now()
		val, err := call(runCtx)
		if err != nil {
			opErr := &OperationError{Op: op, RequestID: h.requestID, Reason: Reason(err), Err: err}
			o.cache.SetRejected(kind, opErr.Reason)
			log.WithError(err).WithField("took", time.Since(start)).Warn("operation rejected")
			var zero T
			h.settle(zero, opErr)
			return
		}

		applied := h.commit(func() {
			if apply != nil {
				apply(val)
			}
		})
		o.cache.SetFulfilled(kind)
		if !applied {
			log.Debug("operation cancelled, result discarded")
			var zero T
			h.settle(zero, ErrCancelled)
			return
		}
		log.WithField("took", time.Since(start)).Debug("operation fulfilled")
		h.settle(val, nil)
	}()
	return h
}

// Reason turns an error into the single human-readable message shown to
// the user.
func Reason(err error) string {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return "the item no longer exists"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "the remote store is unavailable, try again shortly"
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	case errors.Is(err, aggregate.ErrSubTaskNotFound):
		return "the subtask no longer exists"
	case errors.Is(err, model.ErrInvalidDocument):
		return fmt.Sprintf("invalid input: %v", err)
	}
	return err.Error()
}
