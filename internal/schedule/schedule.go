// Package schedule runs keyed, cancellable deferred actions on behalf of an owner
// that guards its state with a mutex.
//
// Every method must be called with the owner's lock held. Actions run with the
// owner's lock held too, and only if they were not cancelled or replaced in the meantime,
// so a stale timer can never act on state it no longer owns.
package schedule

import (
	"sync"
	"time"
)

// Timers is a set of pending actions, at most one per key.
type Timers struct {
	mu      sync.Locker
	pending map[string]*entry
	stopped bool
}

type entry struct {
	timer *time.Timer
}

// New creates a timer set guarded by the owner's lock mu.
func New(mu sync.Locker) *Timers {
	return &Timers{
		mu:      mu,
		pending: make(map[string]*entry),
	}
}

// After schedules fn to run after d under key, replacing any action already pending under key.
// After a call to Stop, After does nothing.
func (t *Timers) After(key string, d time.Duration, fn func()) {
	if t.stopped {
		return
	}

	t.Cancel(key)

	e := &entry{}
	e.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.pending[key] != e {
			return // cancelled or replaced
		}
		delete(t.pending, key)
		fn()
	})
	t.pending[key] = e
}

// Cancel cancels the action pending under key, if any.
func (t *Timers) Cancel(key string) {
	if e, ok := t.pending[key]; ok {
		e.timer.Stop()
		delete(t.pending, key)
	}
}

// Pending reports whether an action is pending under key.
func (t *Timers) Pending(key string) bool {
	_, ok := t.pending[key]
	return ok
}

// Keys returns the keys of all pending actions.
func (t *Timers) Keys() []string {
	keys := make([]string, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	return keys
}

// Stop cancels all pending actions and prevents new ones from being scheduled.
func (t *Timers) Stop() {
	for key := range t.pending {
		t.Cancel(key)
	}
	t.stopped = true
}
