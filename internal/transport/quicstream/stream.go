package quicstream

import (
	"context"
	"io"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/errcode"
	"github.com/quic-go/quic-go"
)

// Stream is the part of [quic.Stream] a player connection uses.
type Stream interface {
	io.ReadWriteCloser
	CancelRead(quic.StreamErrorCode)
	Context() context.Context
	SetWriteDeadline(time.Time) error
}

// streamCloser closes both directions of a stream.
type streamCloser struct {
	Stream
}

func (s streamCloser) Close() error {
	s.CancelRead(errcode.Closed)
	return s.Stream.Close()
}
