package platform

import "sync"

// Tracker counts running handlers and refuses new ones once closed,
// so Wait never races with a late Add.
type Tracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Add registers a handler. It returns false after Close, and the handler must not run.
func (t *Tracker) Add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

// Done marks a handler registered with Add as finished.
func (t *Tracker) Done() {
	t.wg.Done()
}

// Go runs fn in a new goroutine unless the tracker is closed.
func (t *Tracker) Go(fn func()) bool {
	if !t.Add() {
		return false
	}

	go func() {
		defer t.Done()
		fn()
	}()
	return true
}

// Closed reports whether Close was called.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

// Close refuses new handlers. Running handlers are not affected.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until all registered handlers are done.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
