// Package monitor serves the read-only monitoring surface: health, statistics,
// game snapshots, a live dashboard feed and the server log stream.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/game"
	"github.com/JoanyBuclon/Space-Invader/internal/lobby"
	"github.com/JoanyBuclon/Space-Invader/internal/platform"
	"github.com/go-playground/form/v4"
	"github.com/gorilla/websocket"
)

// Source is the orchestrator state the monitor reads.
type Source interface {
	Games() []game.Snapshot
	Stats() lobby.Stats
	LobbySize() int
	ActiveGames() int
}

// Health is the body of the health check.
type Health struct {
	Status      string `json:"status"`
	Lobby       int    `json:"lobby"`
	ActiveGames int    `json:"activeGames"`
}

// Dashboard is pushed to dashboard clients.
type Dashboard struct {
	Games []game.Snapshot `json:"games"`
	Stats lobby.Stats     `json:"stats"`
}

type gamesQuery struct {
	Status game.Status `form:"status"`
	Limit  int         `form:"limit"`
}

type Server struct {
	source   Source
	logs     *LogStream
	interval time.Duration
	logger   *slog.Logger
	decoder  *form.Decoder
	upgrader websocket.Upgrader

	ctx      context.Context // is closed when Close is called
	cancel   context.CancelFunc
	handlers platform.Tracker
}

// Option configures a [Server].
type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithInterval sets how often dashboard clients receive an update.
func WithInterval(d time.Duration) Option {
	return func(s *Server) {
		s.interval = d
	}
}

// WithLogStream enables the log stream endpoint.
func WithLogStream(logs *LogStream) Option {
	return func(s *Server) {
		s.logs = logs
	}
}

// WithCheckOrigin sets the origin check for dashboard connections.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

func New(source Source, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		source:   source,
		interval: 2 * time.Second,
		logger:   slog.Default(),
		decoder:  newFormDecoder(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, Health{
		Status:      "ok",
		Lobby:       s.source.LobbySize(),
		ActiveGames: s.source.ActiveGames(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.source.Stats())
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	var q gamesQuery
	if err := s.decoder.Decode(&q, r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if q.Limit < 0 {
		http.Error(w, "limit must not be negative", http.StatusBadRequest)
		return
	}

	games := make([]game.Snapshot, 0)
	for _, g := range s.source.Games() {
		if q.Status != "" && g.Status != q.Status {
			continue
		}
		games = append(games, g)
		if q.Limit > 0 && len(games) == q.Limit {
			break
		}
	}

	writeJSON(w, games)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !s.handlers.Add() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade dashboard websocket", slog.Any("error", err))
		return
	}
	defer conn.Close()

	s.logger.Info("dashboard connected", slog.String("remote", r.RemoteAddr))
	defer s.logger.Info("dashboard disconnected", slog.String("remote", r.RemoteAddr))

	// Reading is required to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.pushDashboard(conn); err != nil {
			s.logger.Debug("push dashboard", slog.Any("error", err))
			conn.Close()
			<-gone
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second),
			)
			conn.Close()
			<-gone
			return
		}
	}
}

func (s *Server) pushDashboard(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(Dashboard{
		Games: s.source.Games(),
		Stats: s.source.Stats(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	history, ch := s.logs.Subscribe()
	defer s.logs.Unsubscribe(ch)

	for _, line := range history {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
	flusher.Flush()

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// Close ends dashboard feeds and log streams and waits for dashboard handlers to return.
func (s *Server) Close() error {
	s.cancel()
	s.handlers.Close()
	s.handlers.Wait()

	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
