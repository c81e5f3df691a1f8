// Package protocoltest provides an in-memory [protocol.Conn] that records delivered events.
package protocoltest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/protocol"
)

// ErrSendFailed is returned by a Conn configured to fail deliveries.
var ErrSendFailed = errors.New("send failed")

const waitTimeout = 5 * time.Second

// Conn records every event sent to it.
type Conn struct {
	mu     sync.Mutex
	events []protocol.Event
	fail   bool
	done   chan struct{}
	once   sync.Once
}

func NewConn() *Conn {
	return &Conn{done: make(chan struct{})}
}

// NewFailingConn returns a Conn whose Send always fails.
func NewFailingConn() *Conn {
	c := NewConn()
	c.fail = true
	return c
}

func (c *Conn) Send(ev protocol.Event) error {
	if protocol.IsClosed(c) {
		return protocol.ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail {
		return ErrSendFailed
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Events returns a copy of all recorded events.
func (c *Conn) Events() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]protocol.Event(nil), c.events...)
}

// Count returns the number of recorded events of the given type.
func (c *Conn) Count(eventType string) int {
	n := 0
	for _, ev := range c.Events() {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

// Last returns the most recent event of the given type.
func (c *Conn) Last(eventType string) (protocol.Event, bool) {
	events := c.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType() == eventType {
			return events[i], true
		}
	}
	return nil, false
}

// Wait waits until n events of the given type are recorded and returns the latest one.
func (c *Conn) Wait(t testing.TB, eventType string, n int) protocol.Event {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if c.Count(eventType) >= n {
			ev, _ := c.Last(eventType)
			return ev
		}
		time.Sleep(2 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for %d %q events, got %d", n, eventType, c.Count(eventType))
	return nil
}
