// Package router turns inbound player messages into orchestrator calls.
package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/JoanyBuclon/Space-Invader/internal/protocol"
)

// Orchestrator is what the router drives.
// A rejected Join returns a [protocol.Error] to forward to the client.
type Orchestrator interface {
	Join(pseudo string, conn protocol.Conn) error
	Route(pseudo, eventType string) bool
	Disconnect(pseudo string)
}

var (
	errInvalidPseudo = protocol.Error{Message: "Pseudo cannot be empty", Code: protocol.CodeInvalidPseudo}
	errInternal      = protocol.Error{Message: "Internal server error", Code: protocol.CodeInternalError}
)

type Router struct {
	orchestrator Orchestrator
	logger       *slog.Logger
}

func New(orchestrator Orchestrator, logger *slog.Logger) *Router {
	return &Router{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Client is the routing state of one connection.
// A Client must be used by a single goroutine.
type Client struct {
	ID     string
	conn   protocol.Conn
	pseudo string
	gone   bool
	logger *slog.Logger
}

// NewClient registers a connection. Its pseudo is unknown until it joins.
func (r *Router) NewClient(id string, conn protocol.Conn) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		logger: r.logger.With(slog.String("conn_id", id)),
	}
}

// Pseudo returns the pseudo the client joined with, or "" before a successful join.
func (c *Client) Pseudo() string {
	return c.pseudo
}

// Handle decodes and processes one inbound message.
func (r *Router) Handle(c *Client, data []byte) {
	defer func() {
		if v := recover(); v != nil {
			c.logger.Error("panic handling message", slog.Any("panic", v))
			r.reply(c, errInternal)
		}
	}()

	var ev protocol.ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("malformed message", slog.Any("error", err))
		r.reply(c, errInternal)
		return
	}

	r.HandleEvent(c, ev)
}

// HandleEvent processes one decoded inbound event.
func (r *Router) HandleEvent(c *Client, ev protocol.ClientEvent) {
	if c.gone {
		return
	}

	if ev.Type == protocol.TypePlayerJoined {
		r.join(c, ev.Pseudo)
		return
	}

	if c.pseudo == "" {
		c.logger.Warn("dropping event from connection that has not joined", slog.String("event", ev.Type))
		return
	}

	if !r.orchestrator.Route(c.pseudo, ev.Type) {
		c.logger.Debug("event not routed", slog.String("pseudo", c.pseudo), slog.String("event", ev.Type))
	}

	if ev.Type == protocol.TypePlayerDisconnected {
		r.Disconnect(c)
		c.conn.Close()
	}
}

// Disconnect tells the orchestrator the client is gone. It is safe to call more than once.
func (r *Router) Disconnect(c *Client) {
	if c.gone {
		return
	}
	c.gone = true

	if c.pseudo != "" {
		c.logger.Info("player disconnected", slog.String("pseudo", c.pseudo))
		r.orchestrator.Disconnect(c.pseudo)
	}
}

func (r *Router) join(c *Client, pseudo string) {
	if c.pseudo != "" {
		c.logger.Warn("connection already joined", slog.String("pseudo", c.pseudo))
		return
	}

	pseudo = strings.TrimSpace(pseudo)
	if pseudo == "" {
		r.reply(c, errInvalidPseudo)
		c.conn.Close()
		return
	}

	if err := r.orchestrator.Join(pseudo, c.conn); err != nil {
		var rejected protocol.Error
		if !errors.As(err, &rejected) {
			rejected = errInternal
		}
		c.logger.Info("join rejected", slog.String("pseudo", pseudo), slog.Any("error", err))
		r.reply(c, rejected)
		c.conn.Close()
		return
	}

	c.pseudo = pseudo
	c.logger.Info("player joined", slog.String("pseudo", pseudo))
}

func (r *Router) reply(c *Client, ev protocol.Event) {
	if err := c.conn.Send(ev); err != nil {
		c.logger.Warn("failed to deliver event", slog.String("event", ev.EventType()), slog.Any("error", err))
	}
}
