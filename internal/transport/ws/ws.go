// Package ws serves game clients over WebSocket.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/platform"
	"github.com/JoanyBuclon/Space-Invader/internal/protocol"
	"github.com/JoanyBuclon/Space-Invader/internal/router"
	"github.com/JoanyBuclon/Space-Invader/internal/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Handler upgrades requests to WebSocket and feeds client messages to the router.
type Handler struct {
	router   *router.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
	conns    *platform.Map[string, *transport.Conn]
	handlers platform.Tracker
}

// Option configures a [Handler].
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithCheckOrigin sets the origin check of the upgrade. By default all origins are accepted.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = check
	}
}

func NewHandler(r *router.Router, opts ...Option) *Handler {
	h := &Handler{
		router: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: slog.Default(),
		conns:  platform.NewMap[string, *transport.Conn](),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.conns.NotifyAdd(func(id string, _ *transport.Conn) {
		h.logger.Debug("websocket connected", slog.String("conn_id", id))
	})
	h.conns.NotifyDelete(func(id string, _ *transport.Conn, reason error) {
		h.logger.Debug("websocket disconnected", slog.String("conn_id", id), slog.Any("reason", reason))
	})

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.handlers.Add() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.handlers.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade replies to the client itself.
		h.logger.Debug("upgrade websocket", slog.Any("error", err))
		return
	}

	id := uuid.NewString()
	logger := h.logger.With(slog.String("conn_id", id))
	conn := transport.NewConn(id, func(ev protocol.Event) error {
		if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return ws.WriteJSON(ev)
	}, ws, logger)

	h.conns.Put(id, conn)
	if h.handlers.Closed() {
		// Close may have walked the connections before this one was added.
		conn.Close()
	}
	client := h.router.NewClient(conn.ID(), conn)

	reason := h.readLoop(ws, client)

	conn.Close()
	h.router.Disconnect(client)
	h.conns.Delete(id, reason)
	<-conn.Done()
}

func (h *Handler) readLoop(ws *websocket.Conn, client *router.Client) error {
	ws.SetReadLimit(maxMessageSize)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("websocket read",
					slog.String("conn_id", client.ID),
					slog.String("pseudo", client.Pseudo()),
					slog.Any("error", err),
				)
			}
			return err
		}

		h.router.Handle(client, data)
	}
}

// Connections returns the number of open connections.
func (h *Handler) Connections() int {
	return h.conns.Len()
}

// Close closes all open connections and waits for their handlers to finish.
func (h *Handler) Close() error {
	h.handlers.Close()
	h.conns.ForEach(func(_ string, conn *transport.Conn) {
		conn.Close()
	})
	h.handlers.Wait()

	return nil
}
