// Package subscription owns the realtime listeners that keep the cache in
// step with the remote store.
//
// A Manager holds at most one live listener per scope. Subscribing to a
// scope that already has a listener tears the old one down first. Every
// snapshot a listener receives replaces the scope's target collection in
// the cache as a whole; there is no incremental diffing.
//
// Listener lifecycle:
//
//	Unsubscribed -> Subscribing -> Subscribed -> Unsubscribed
//
// Once Unsubscribe returns, no snapshot of that listener reaches the cache,
// even one the store was already delivering.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("subscription manager closed")

// State is a listener's lifecycle state.
type State int

const (
	Unsubscribed State = iota
	Subscribing
	Subscribed
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// Manager multiplexes scoped listeners onto one cache.
type Manager struct {
	store remote.Store
	cache *cache.Store
	log   logrus.FieldLogger

	mu     sync.Mutex
	subs   map[string]*listener
	closed bool
}

// New creates a Manager feeding c from store.
func New(store remote.Store, c *cache.Store, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		store: store,
		cache: c,
		log:   log.WithField("component", "subscription"),
		subs:  make(map[string]*listener),
	}
}

type listener struct {
	scope Scope
	kind  model.Kind
	cache *cache.Store
	log   logrus.FieldLogger

	// mu is held for the whole of a delivery so stop can wait it out.
	mu    sync.Mutex
	state State
	unsub remote.Unsubscribe
}

// Subscribe attaches a listener for scope, replacing any existing one. The
// store may deliver the first snapshot before Subscribe returns.
func (m *Manager) Subscribe(scope Scope) error {
	kind, ok := cache.KindOf(scope.Target)
	if !ok {
		return fmt.Errorf("%w: %s", cache.ErrUnknownCollection, scope.Target)
	}
	if err := scope.Query.Validate(); err != nil {
		return fmt.Errorf("invalid query for %s: %w", scope, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	key := scope.Key()
	if old := m.subs[key]; old != nil {
		old.stop()
		delete(m.subs, key)
		m.log.WithField("scope", key).Debug("replaced existing listener")
	}

	l := &listener{
		scope: scope,
		kind:  kind,
		cache: m.cache,
		log:   m.log.WithField("scope", key),
		state: Subscribing,
	}
	m.subs[key] = l

	unsub, err := m.store.Subscribe(scope.Source, scope.Query, l.deliver)
	if err != nil {
		l.stop()
		delete(m.subs, key)
		return fmt.Errorf("failed to subscribe to %s: %w", scope, err)
	}

	l.mu.Lock()
	if l.state == Subscribing {
		l.state = Subscribed
		l.unsub = unsub
		l.mu.Unlock()
	} else {
		l.mu.Unlock()
		unsub()
	}
	l.log.Debug("subscribed")
	return nil
}

// Unsubscribe detaches the listener for scope. It reports whether one was
// attached.
func (m *Manager) Unsubscribe(scope Scope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.Key()
	l := m.subs[key]
	if l == nil {
		return false
	}
	l.stop()
	delete(m.subs, key)
	l.log.Debug("unsubscribed")
	return true
}

// Scoped subscribes to scope for the duration of fn. The listener is
// detached on every return path, including errors and panics.
func (m *Manager) Scoped(ctx context.Context, scope Scope, fn func(context.Context) error) error {
	if err := m.Subscribe(scope); err != nil {
		return err
	}
	defer m.Unsubscribe(scope)
	return fn(ctx)
}

// State returns the lifecycle state of scope's listener.
func (m *Manager) State(scope Scope) State {
	m.mu.Lock()
	l := m.subs[scope.Key()]
	m.mu.Unlock()
	if l == nil {
		return Unsubscribed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Active lists the keys of every attached listener in sorted order.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close detaches every listener. Subscribe fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, l := range m.subs {
		l.stop()
		delete(m.subs, key)
	}
	m.closed = true
}

// stop marks the listener dead and detaches it from the store. After stop
// returns, deliver is a no-op.
func (l *listener) stop() {
	l.mu.Lock()
	l.state = Unsubscribed
	unsub := l.unsub
	l.unsub = nil
	l.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (l *listener) deliver(docs []remote.Document, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Unsubscribed {
		l.log.Debug("dropping snapshot for closed listener")
		return
	}
	if err != nil {
		l.log.WithError(err).Warn("listener failed")
		l.cache.SetRejected(l.kind, "live updates stopped: "+err.Error())
		return
	}

	items := make([]model.Entity, 0, len(docs))
	for _, doc := range docs {
		e, err := model.Decode(l.scope.Source, doc)
		if err != nil {
			l.log.WithError(err).WithField("id", doc.ID).Warn("skipping invalid document")
			continue
		}
		items = append(items, e)
	}
	if err := l.cache.ReplaceCollection(l.scope.Target, items); err != nil {
		l.log.WithError(err).Error("failed to apply snapshot")
		return
	}
	l.log.WithField("count", len(items)).Debug("snapshot applied")
}
