package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by Wait when the handle was cancelled before the
// operation's result reached the cache.
var ErrCancelled = errors.New("operation cancelled")

// OperationError is the rejected outcome of an operation. Reason is the
// message stored in the cache's error flag.
type OperationError struct {
	Op        string
	RequestID string
	Reason    string
	Err       error
}

func (e *OperationError) Error() string {
	return e.Op + ": " + e.Reason
}

func (e *OperationError) Unwrap() error { return e.Err }

// Handle tracks one in-flight operation.
//
// The remote call always runs to completion. Cancel only guarantees that
// the result is not written into the cache once Cancel has returned.
type Handle[T any] struct {
	op        string
	requestID string
	done      chan struct{}

	mu        sync.Mutex // held while the result is applied to the cache
	cancelled bool

	val T
	err error
}

func newHandle[T any](op, requestID string) *Handle[T] {
	return &Handle[T]{op: op, requestID: requestID, done: make(chan struct{})}
}

// Op returns the stable operation name, e.g. "projects/create".
func (h *Handle[T]) Op() string { return h.op }

// RequestID returns the unique id assigned to this run.
func (h *Handle[T]) RequestID() string { return h.requestID }

// Done is closed once the operation has settled.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Cancel discards the operation's result. It is safe to call at any time
// and more than once.
func (h *Handle[T]) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}

// Wait blocks until the operation settles or ctx is done.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// commit applies the result unless the handle was cancelled. It reports
// whether apply ran.
func (h *Handle[T]) commit(apply func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	apply()
	return true
}

func (h *Handle[T]) settle(val T, err error) {
	h.val = val
	h.err = err
	close(h.done)
}
