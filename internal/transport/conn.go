// Package transport adapts network connections to [protocol.Conn].
package transport

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/JoanyBuclon/Space-Invader/internal/protocol"
)

// QueueSize is the number of events buffered per connection.
const QueueSize = 64

// ErrSlowConsumer is returned when a connection's queue is full. The connection is closed.
var ErrSlowConsumer = errors.New("slow consumer")

// Encoder writes one event to the wire.
type Encoder func(protocol.Event) error

// Conn delivers events through a per-connection writer goroutine,
// so senders never block on the network.
type Conn struct {
	id      string
	encode  Encoder
	closer  io.Closer
	logger  *slog.Logger
	queue   chan protocol.Event
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewConn starts the writer for a connection. closer is called once the writer stops.
func NewConn(id string, encode Encoder, closer io.Closer, logger *slog.Logger) *Conn {
	c := &Conn{
		id:      id,
		encode:  encode,
		closer:  closer,
		logger:  logger,
		queue:   make(chan protocol.Event, QueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.writeLoop()

	return c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Send(ev protocol.Event) error {
	select {
	case <-c.closing:
		return protocol.ErrClosed
	case <-c.done:
		return protocol.ErrClosed
	default:
	}

	select {
	case c.queue <- ev:
		return nil
	default:
		c.logger.Warn("send queue full, closing connection", slog.String("conn_id", c.id))
		c.Close()
		return ErrSlowConsumer
	}
}

// Close stops accepting events. Events already queued are written before
// the underlying connection is closed.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closing) })
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	defer func() {
		if err := c.closer.Close(); err != nil {
			c.logger.Debug("close connection", slog.String("conn_id", c.id), slog.Any("error", err))
		}
	}()

	for {
		select {
		case ev := <-c.queue:
			if !c.write(ev) {
				return
			}
		case <-c.closing:
			for {
				select {
				case ev := <-c.queue:
					if !c.write(ev) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) write(ev protocol.Event) bool {
	if err := c.encode(ev); err != nil {
		c.logger.Debug("write event", slog.String("conn_id", c.id), slog.String("event", ev.EventType()), slog.Any("error", err))
		return false
	}
	return true
}
