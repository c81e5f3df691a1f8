// Package quicstream serves native game clients over QUIC.
//
// A client opens one bidirectional stream per player. Both directions carry
// newline-delimited JSON: client events in, server events out.
package quicstream

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/errcode"
	"github.com/JoanyBuclon/Space-Invader/internal/platform"
	"github.com/JoanyBuclon/Space-Invader/internal/protocol"
	"github.com/JoanyBuclon/Space-Invader/internal/router"
	"github.com/JoanyBuclon/Space-Invader/internal/transport"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

// NextProto is the ALPN protocol of game streams.
const NextProto = "space-invader/1"

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("quicstream: server closed")

// Server accepts QUIC connections and routes the events of their streams.
type Server struct {
	// TLSConfig must hold a certificate. [NextProto] is added to its NextProtos.
	TLSConfig *tls.Config
	// QUICConfig can be set before serving. If nil, defaults are used.
	QUICConfig *quic.Config
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	router    *router.Router
	conns     *platform.Map[string, *transport.Conn]
	ctx       context.Context // is closed when Close is called
	ctxCancel context.CancelFunc
	handlers  platform.Tracker
	once      sync.Once
}

func NewServer(r *router.Router) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		router:    r,
		conns:     platform.NewMap[string, *transport.Conn](),
		ctx:       ctx,
		ctxCancel: cancel,
	}
}

func (s *Server) init() {
	s.once.Do(func() {
		if s.Logger == nil {
			s.Logger = slog.Default()
		}
	})
}

// ListenAndServe listens on the UDP address addr and serves clients.
func (s *Server) ListenAndServe(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}
	defer conn.Close()

	return s.Serve(conn)
}

// Serve accepts QUIC connections on conn until Close is called.
func (s *Server) Serve(conn net.PacketConn) error {
	s.init()

	if s.TLSConfig == nil {
		return errors.New("quicstream: no TLS config")
	}
	tlsConf := s.TLSConfig.Clone()
	tlsConf.NextProtos = append(tlsConf.NextProtos, NextProto)

	quicConf := &quic.Config{}
	if s.QUICConfig != nil {
		quicConf = s.QUICConfig.Clone()
	}

	ln, err := quic.Listen(conn, tlsConf, quicConf)
	if err != nil {
		return fmt.Errorf("listen QUIC: %w", err)
	}
	defer ln.Close()

	s.Logger.Info("serving QUIC", slog.String("addr", conn.LocalAddr().String()))

	for {
		qconn, err := ln.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			return fmt.Errorf("accept connection: %w", err)
		}

		if !s.handlers.Go(func() { s.serveConn(qconn) }) {
			qconn.CloseWithError(errcode.Shutdown, "server closed")
			return ErrServerClosed
		}
	}
}

func (s *Server) serveConn(conn *quic.Conn) {
	logger := s.Logger.With(slog.String("remote", conn.RemoteAddr().String()))
	stop := context.AfterFunc(s.ctx, func() {
		conn.CloseWithError(errcode.Shutdown, "server closed")
	})
	defer stop()

	for {
		str, err := conn.AcceptStream(s.ctx)
		if err != nil {
			closed, byPeer := errcode.ConnClosed(err)
			switch {
			case errors.Is(err, context.Canceled), closed:
				logger.Debug("connection closed", slog.Bool("by_peer", byPeer))
			default:
				logger.Warn("accept stream", slog.Any("error", err))
				conn.CloseWithError(errcode.Internal, "")
			}
			return
		}

		if !s.handlers.Go(func() { s.serveStream(str, logger) }) {
			streamCloser{str}.Close()
			return
		}
	}
}

// serveStream routes the events of one player stream until it ends.
func (s *Server) serveStream(str Stream, logger *slog.Logger) {
	id := uuid.NewString()
	logger = logger.With(slog.String("conn_id", id))

	enc := json.NewEncoder(str)
	conn := transport.NewConn(id, func(ev protocol.Event) error {
		if err := str.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return enc.Encode(ev)
	}, streamCloser{str}, logger)

	s.conns.Put(id, conn)
	client := s.router.NewClient(conn.ID(), conn)

	reason := s.readLoop(str, client, logger)

	conn.Close()
	s.router.Disconnect(client)
	s.conns.Delete(id, reason)
	<-conn.Done()
}

func (s *Server) readLoop(str Stream, client *router.Client, logger *slog.Logger) error {
	scanner := bufio.NewScanner(str)
	scanner.Buffer(make([]byte, 0, 512), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.router.Handle(client, line)
	}

	err := scanner.Err()
	closed, _ := errcode.ConnClosed(err)
	switch {
	case err == nil:
		logger.Debug("stream ended")
	case errors.Is(err, bufio.ErrTooLong):
		logger.Warn("message too long, closing stream", slog.String("pseudo", client.Pseudo()))
		str.CancelRead(errcode.TooLong)
	case errcode.StreamReset(err), closed:
		logger.Debug("stream closed", slog.Any("error", err))
	default:
		logger.Warn("read stream", slog.Any("error", err))
	}

	return err
}

// Connections returns the number of open player streams.
func (s *Server) Connections() int {
	return s.conns.Len()
}

// Close closes all connections and waits for their handlers to finish.
func (s *Server) Close() error {
	s.ctxCancel()
	s.handlers.Close()
	s.conns.ForEach(func(_ string, conn *transport.Conn) {
		conn.Close()
	})
	s.handlers.Wait()

	return nil
}
