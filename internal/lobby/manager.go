// Package lobby matches waiting players into game sessions, owns the table of sessions
// and decides what happens to players once a session ends.
package lobby

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/game"
	"github.com/JoanyBuclon/Space-Invader/internal/protocol"
	"github.com/JoanyBuclon/Space-Invader/internal/schedule"
)

const restartPrefix = "restart:"

var (
	// ErrPseudoInUse rejects a join for a pseudo that is waiting, playing or about to restart.
	ErrPseudoInUse = protocol.Error{Message: "Pseudo already in use or you are already in a game", Code: protocol.CodePseudoInUse}
	// ErrClosed rejects a join once the manager is shutting down.
	ErrClosed = protocol.Error{Message: "Server is shutting down", Code: protocol.CodeServerShutdown}
)

// Stats summarizes the orchestrator state.
type Stats struct {
	TotalGames    int   `json:"totalGames"`
	ActiveGames   int   `json:"activeGames"`
	TotalPlayers  int   `json:"totalPlayers"`
	UptimeSeconds int64 `json:"uptime"`
}

// Manager is the lobby and session orchestrator.
// A player is in at most one of: the lobby, an active session, a pending restart.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	startedAt time.Time

	mu       sync.Mutex
	timers   *schedule.Timers
	lobby    []game.PlayerConn
	sessions map[string]*game.Session
	// assigned maps players outside the lobby to their session id or restart key.
	assigned map[string]string
	restarts map[string][]game.PlayerConn
	counter  int
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*game.Session),
		assigned: make(map[string]string),
		restarts: make(map[string][]game.PlayerConn),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timers = schedule.New(&m.mu)
	m.startedAt = m.now()

	return m
}

// Join adds a player to the lobby. It fails with [ErrPseudoInUse] if the pseudo is already
// waiting, playing or about to restart, and with [ErrClosed] once the manager is closed.
func (m *Manager) Join(pseudo string, conn protocol.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.lobbyIndex(pseudo) >= 0 {
		m.logger.Warn("pseudo already in lobby", slog.String("pseudo", pseudo))
		return ErrPseudoInUse
	}
	if id, ok := m.assigned[pseudo]; ok {
		m.logger.Warn("pseudo already in a game", slog.String("pseudo", pseudo), slog.String("game_id", id))
		return ErrPseudoInUse
	}

	m.lobby = append(m.lobby, game.PlayerConn{Pseudo: pseudo, Conn: conn, JoinedAt: m.now()})
	m.logger.Info("player joined lobby", slog.String("pseudo", pseudo), slog.Int("lobby", len(m.lobby)))
	m.broadcastLobby()

	return nil
}

// Leave removes a player from the lobby.
func (m *Manager) Leave(pseudo string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.removeFromLobby(pseudo) {
		m.logger.Info("player left lobby", slog.String("pseudo", pseudo))
		m.broadcastLobby()
	}
}

// Route forwards a gameplay event to the player's active session.
// It returns false if the player has no active session or the event type is unknown.
func (m *Manager) Route(pseudo, eventType string) bool {
	s := m.activeSession(pseudo)
	if s == nil {
		return false
	}

	switch eventType {
	case protocol.TypePlayerTouched:
		s.PlayerTouched(pseudo)
	case protocol.TypeEnemyKilled:
		s.EnemyKilled(pseudo)
	case protocol.TypeWaveCleared:
		s.WaveCleared(pseudo)
	case protocol.TypePlayerKilled:
		s.PlayerKilled(pseudo)
	case protocol.TypePlayerDisconnected:
		s.PlayerDisconnected(pseudo)
	default:
		return false
	}

	return true
}

// Disconnect handles a player whose connection went away, wherever they are.
func (m *Manager) Disconnect(pseudo string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	if m.removeFromLobby(pseudo) {
		m.logger.Info("player left lobby", slog.String("pseudo", pseudo))
		m.broadcastLobby()
	}

	var s *game.Session
	if key, ok := m.assigned[pseudo]; ok {
		if players, ok := m.restarts[key]; ok {
			m.restarts[key] = slices.DeleteFunc(players, func(pc game.PlayerConn) bool { return pc.Pseudo == pseudo })
			delete(m.assigned, pseudo)
			m.logger.Info("player left before restart", slog.String("pseudo", pseudo), slog.String("game_id", key))
		} else if sess := m.sessions[key]; sess != nil {
			s = sess
		}
	}
	m.mu.Unlock()

	if s != nil {
		s.PlayerDisconnected(pseudo)
	}
}

// Match starts a game with the longest-waiting players if enough are waiting.
func (m *Manager) Match() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	before := len(m.lobby)
	m.lobby = slices.DeleteFunc(m.lobby, func(pc game.PlayerConn) bool { return protocol.IsClosed(pc.Conn) })
	if pruned := before - len(m.lobby); pruned > 0 {
		m.logger.Info("pruned closed connections from lobby", slog.Int("count", pruned))
	}

	if len(m.lobby) < m.cfg.MinPlayers {
		if len(m.lobby) != before {
			m.broadcastLobby()
		}
		return
	}

	n := min(len(m.lobby), m.cfg.MaxPlayers)
	players := slices.Clone(m.lobby[:n])
	m.lobby = slices.Delete(m.lobby, 0, n)

	m.startSession(players)
	m.broadcastLobby()
}

// Sweep removes sessions that completed longer than the retention period ago.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, s := range m.sessions {
		completedAt, ok := s.CompletedAt()
		if ok && now.Sub(completedAt) > m.cfg.Retention {
			delete(m.sessions, id)
			m.logger.Debug("removed completed game", slog.String("game_id", id))
		}
	}
}

// Run matches and sweeps periodically until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	match := time.NewTicker(m.cfg.MatchInterval)
	defer match.Stop()
	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-match.C:
			m.Match()
		case <-sweep.C:
			m.Sweep()
		}
	}
}

// Games returns snapshots of all retained sessions, newest first.
func (m *Manager) Games() []game.Snapshot {
	sessions := m.sessionList()

	games := make([]game.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		games = append(games, s.Snapshot())
	}
	slices.SortStableFunc(games, func(a, b game.Snapshot) int {
		return cmp.Compare(b.StartedAt, a.StartedAt)
	})

	return games
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	lobby := len(m.lobby)
	m.mu.Unlock()

	sessions := m.sessionList()
	stats := Stats{
		TotalGames:    len(sessions),
		TotalPlayers:  lobby,
		UptimeSeconds: int64(m.now().Sub(m.startedAt).Seconds()),
	}
	for _, s := range sessions {
		if s.Active() {
			stats.ActiveGames++
			stats.TotalPlayers += s.ConnectedPlayers()
		}
	}

	return stats
}

// LobbySize returns the number of waiting players.
func (m *Manager) LobbySize() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.lobby)
}

// ActiveGames returns the number of sessions still in play.
func (m *Manager) ActiveGames() int {
	n := 0
	for _, s := range m.sessionList() {
		if s.Active() {
			n++
		}
	}
	return n
}

// Close stops matchmaking and restarts, notifies waiting players that the server
// is shutting down and closes their connections.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.timers.Stop()
	lobby := m.lobby
	m.lobby = nil
	sessions := make([]*game.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	close(m.stop)

	for _, pc := range lobby {
		if err := pc.Conn.Send(ErrClosed); err != nil {
			m.logger.Warn("failed to notify shutdown", slog.String("pseudo", pc.Pseudo), slog.Any("error", err))
		}
		pc.Conn.Close()
	}
	for _, s := range sessions {
		s.Close()
	}

	m.wg.Wait()
	m.logger.Info("lobby closed", slog.Int("notified", len(lobby)))

	return nil
}

// startSession must be called with the lock held.
func (m *Manager) startSession(players []game.PlayerConn) {
	m.counter++
	id := fmt.Sprintf("game-%d-%d", m.counter, m.now().UnixMilli())

	cfg := m.cfg.Game
	cfg.Now = m.now
	s := game.NewSession(id, players, cfg, m.logger.With(slog.String("game_id", id)))
	m.sessions[id] = s
	for _, pc := range players {
		m.assigned[pc.Pseudo] = id
	}

	m.wg.Add(1)
	go m.awaitResult(s)

	s.Start()
}

func (m *Manager) awaitResult(s *game.Session) {
	defer m.wg.Done()

	select {
	case res, ok := <-s.Done():
		if ok {
			m.handleResult(res)
		}
	case <-m.stop:
	}
}

func (m *Manager) handleResult(res game.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for _, pseudo := range res.Players {
		if m.assigned[pseudo] == res.GameID {
			delete(m.assigned, pseudo)
		}
	}

	survivors := liveConns(res.Survivors)
	logger := m.logger.With(slog.String("game_id", res.GameID))
	if len(survivors) < m.cfg.MinPlayers {
		logger.Info("not enough survivors for a restart, returning them to lobby", slog.Int("survivors", len(survivors)))
		m.foldIntoLobby(survivors)
		return
	}

	delay := m.cfg.WipeRestartDelay
	if res.Victory {
		delay = m.cfg.VictoryRestartDelay
	}

	key := restartPrefix + res.GameID
	pseudos := make([]string, len(survivors))
	for i, pc := range survivors {
		m.assigned[pc.Pseudo] = key
		pseudos[i] = pc.Pseudo
	}
	m.restarts[key] = survivors

	update := protocol.LobbyUpdate{
		WaitingPlayers:  pseudos,
		RequiredPlayers: m.cfg.MinPlayers,
		CurrentPlayers:  len(survivors),
	}
	for _, pc := range survivors {
		m.send(pc, update)
	}

	logger.Info("restarting with survivors",
		slog.Any("players", pseudos),
		slog.Bool("victory", res.Victory),
		slog.Duration("delay", delay),
	)
	m.timers.After(key, delay, func() { m.restart(key) })
}

// restart runs with the lock held.
func (m *Manager) restart(key string) {
	players := m.restarts[key]
	delete(m.restarts, key)
	for _, pc := range players {
		delete(m.assigned, pc.Pseudo)
	}

	alive := liveConns(players)
	if len(alive) < m.cfg.MinPlayers {
		m.logger.Info("not enough players left for a restart, returning them to lobby",
			slog.String("game_id", key), slog.Int("players", len(alive)))
		m.foldIntoLobby(alive)
		return
	}

	m.startSession(alive)
}

func (m *Manager) foldIntoLobby(players []game.PlayerConn) {
	if len(players) == 0 {
		return
	}

	now := m.now()
	for _, pc := range players {
		pc.JoinedAt = now
		m.lobby = append(m.lobby, pc)
	}
	m.broadcastLobby()
}

func (m *Manager) activeSession(pseudo string) *game.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[m.assigned[pseudo]]
	if s == nil || !s.Active() {
		return nil
	}
	return s
}

func (m *Manager) sessionList() []*game.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]*game.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (m *Manager) lobbyIndex(pseudo string) int {
	return slices.IndexFunc(m.lobby, func(pc game.PlayerConn) bool { return pc.Pseudo == pseudo })
}

func (m *Manager) removeFromLobby(pseudo string) bool {
	i := m.lobbyIndex(pseudo)
	if i < 0 {
		return false
	}
	m.lobby = slices.Delete(m.lobby, i, i+1)
	return true
}

func (m *Manager) broadcastLobby() {
	waiting := make([]string, len(m.lobby))
	for i, pc := range m.lobby {
		waiting[i] = pc.Pseudo
	}

	update := protocol.LobbyUpdate{
		WaitingPlayers:  waiting,
		RequiredPlayers: m.cfg.MinPlayers,
		CurrentPlayers:  len(m.lobby),
	}
	for _, pc := range m.lobby {
		m.send(pc, update)
	}
}

func (m *Manager) send(pc game.PlayerConn, ev protocol.Event) {
	if err := pc.Conn.Send(ev); err != nil {
		m.logger.Warn("failed to deliver event",
			slog.String("pseudo", pc.Pseudo),
			slog.String("event", ev.EventType()),
			slog.Any("error", err),
		)
	}
}

func liveConns(players []game.PlayerConn) []game.PlayerConn {
	live := make([]game.PlayerConn, 0, len(players))
	for _, pc := range players {
		if !protocol.IsClosed(pc.Conn) {
			live = append(live, pc)
		}
	}
	return live
}
