// Package errcode holds the QUIC codes the game master closes native client
// connections and player streams with.
package errcode

import (
	"errors"

	"github.com/quic-go/quic-go"
)

// Connection close codes.
const (
	// Shutdown ends a connection that has nothing left to do: the server is stopping or the client hung up.
	Shutdown quic.ApplicationErrorCode = iota
	// Internal ends a connection the server can no longer serve.
	Internal
)

// Stream reset codes.
const (
	// TooLong resets a player stream that sent a message over the size limit.
	TooLong quic.StreamErrorCode = iota + 1
	// Closed resets a player stream the server is done with.
	Closed
)

// ConnClosed reports whether err ends a connection closed with [Shutdown],
// and whether the peer was the one to close it.
func ConnClosed(err error) (closed, byPeer bool) {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == Shutdown {
		return true, appErr.Remote
	}
	return false, false
}

// StreamReset reports whether err comes from a stream reset by either side.
func StreamReset(err error) bool {
	var streamErr *quic.StreamError
	return errors.As(err, &streamErr)
}
