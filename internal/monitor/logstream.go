package monitor

import (
	"bytes"
	"container/ring"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogStream is a [slog.Handler] that forwards records to another handler and
// broadcasts them, formatted as text lines, to log subscribers.
// It keeps the most recent lines for replay to new subscribers.
type LogStream struct {
	core    *streamCore
	handler slog.Handler
	next    slog.Handler
}

type streamCore struct {
	mu          sync.Mutex
	buf         bytes.Buffer
	history     ringBuffer
	subscribers map[chan string]struct{}
}

var _ slog.Handler = (*LogStream)(nil)

// NewLogStream creates a handler keeping up to historySize lines. Records are
// also passed to next, which decides which levels are enabled.
func NewLogStream(next slog.Handler, historySize int) *LogStream {
	historySize = max(historySize, 1)
	core := &streamCore{
		history:     newRingBuffer(historySize),
		subscribers: make(map[chan string]struct{}),
	}

	return &LogStream{
		core: core,
		handler: slog.NewTextHandler(&core.buf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.String(a.Key, a.Value.Time().Format("15:04:05"))
				}
				return a
			},
		}),
		next: next,
	}
}

func (h *LogStream) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogStream) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogStream{core: h.core, handler: h.handler.WithAttrs(attrs), next: h.next.WithAttrs(attrs)}
}

func (h *LogStream) WithGroup(name string) slog.Handler {
	return &LogStream{core: h.core, handler: h.handler.WithGroup(name), next: h.next.WithGroup(name)}
}

func (h *LogStream) Handle(ctx context.Context, r slog.Record) error {
	if err := h.broadcast(ctx, r); err != nil {
		return err
	}

	return h.next.Handle(ctx, r)
}

func (h *LogStream) broadcast(ctx context.Context, r slog.Record) error {
	c := h.core
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Reset()
	if err := h.handler.Handle(ctx, r.Clone()); err != nil {
		return err
	}

	line := strings.TrimSuffix(c.buf.String(), "\n")
	c.history.add(line)

	for ch := range c.subscribers {
		select {
		case ch <- line:
		default: // drop if subscriber is slow
		}
	}
	return nil
}

// Subscribe returns the buffered history and a channel of new lines.
func (h *LogStream) Subscribe() ([]string, chan string) {
	c := h.core
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan string, 100)
	c.subscribers[ch] = struct{}{}
	return c.history.entries(), ch
}

// Unsubscribe removes a subscriber channel.
func (h *LogStream) Unsubscribe(ch chan string) {
	c := h.core
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscribers[ch]; ok {
		delete(c.subscribers, ch)
		close(ch)
	}
}

// Close disconnects all subscribers.
func (h *LogStream) Close() {
	c := h.core
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, ch)
	}
}

// ringBuffer is a fixed-size circular buffer of strings.
type ringBuffer struct {
	r        *ring.Ring
	count    int // number of entries written, capped at capacity
	capacity int
}

func newRingBuffer(capacity int) ringBuffer {
	return ringBuffer{
		r:        ring.New(capacity),
		capacity: capacity,
	}
}

// add appends a string, overwriting the oldest entry if full.
func (rb *ringBuffer) add(s string) {
	rb.r.Value = s
	rb.r = rb.r.Next()
	if rb.count < rb.capacity {
		rb.count++
	}
}

// entries returns all stored strings in insertion order.
func (rb *ringBuffer) entries() []string {
	result := make([]string, 0, rb.count)
	r := rb.r.Move(-rb.count)
	for range rb.count {
		result = append(result, r.Value.(string))
		r = r.Next()
	}
	return result
}
