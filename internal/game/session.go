// Package game implements a single game session: the wave state machine,
// per-player state and the inactivity watchdogs.
package game

import (
	"log/slog"
	"sync"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/protocol"
	"github.com/JoanyBuclon/Space-Invader/internal/schedule"
)

// Status of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

const (
	timerWave           = "wave"
	timerWatchdogPrefix = "watchdog:"
)

// PlayerConn is a player and the connection events are delivered to.
type PlayerConn struct {
	Pseudo   string
	Conn     protocol.Conn
	JoinedAt time.Time
}

type player struct {
	pseudo       string
	lives        int
	kills        int
	totalKills   int
	wavesCleared int
	alive        bool
	clearedWave  bool
	disconnected bool
}

func (p *player) kill() {
	p.alive = false
	p.clearedWave = true
}

// Result is produced once, when a session completes.
type Result struct {
	GameID         string
	Victory        bool
	AllPlayersDead bool
	Players        []string
	Stats          []protocol.PlayerStat
	// Survivors are roster members that did not disconnect and whose connection is still open.
	Survivors []PlayerConn
}

// PlayerInfo is a player's state in a [Snapshot].
type PlayerInfo struct {
	Pseudo         string `json:"pseudo"`
	Lives          int    `json:"lives"`
	Kills          int    `json:"kills"`
	IsAlive        bool   `json:"isAlive"`
	HasClearedWave bool   `json:"hasClearedWave"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	GameID      string       `json:"gameId"`
	Players     []PlayerInfo `json:"players"`
	CurrentWave int          `json:"currentWave"`
	TotalWaves  int          `json:"totalWaves"`
	Status      Status       `json:"status"`
	StartedAt   int64        `json:"startedAt"`
}

// Session is one running game for a fixed roster of players.
// All methods are safe for concurrent use.
type Session struct {
	id     string
	cfg    Config
	waves  []Wave
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	timers      *schedule.Timers
	status      Status
	started     bool
	wave        int
	roster      []PlayerConn
	players     map[string]*player
	conns       map[string]protocol.Conn
	startedAt   time.Time
	completedAt time.Time
	done        chan Result
}

// NewSession creates a session for the roster. The session does nothing until Start is called.
func NewSession(id string, roster []PlayerConn, cfg Config, logger *slog.Logger) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		waves:     append([]Wave(nil), cfg.Waves...),
		logger:    logger,
		now:       now,
		status:    StatusActive,
		roster:    append([]PlayerConn(nil), roster...),
		players:   make(map[string]*player, len(roster)),
		conns:     make(map[string]protocol.Conn, len(roster)),
		startedAt: now(),
		done:      make(chan Result, 1),
	}
	s.timers = schedule.New(&s.mu)

	for _, pc := range roster {
		s.players[pc.Pseudo] = &player{
			pseudo: pc.Pseudo,
			lives:  cfg.StartingLives,
			alive:  true,
		}
		s.conns[pc.Pseudo] = pc.Conn
	}

	return s
}

func (s *Session) ID() string {
	return s.id
}

// Done delivers the session result once, when the session completes, and is closed afterwards.
func (s *Session) Done() <-chan Result {
	return s.done
}

// Start announces the game to the roster and schedules the first wave.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.status != StatusActive {
		return
	}
	s.started = true

	players := make([]string, len(s.roster))
	for i, pc := range s.roster {
		players[i] = pc.Pseudo
	}

	s.logger.Info("game started", slog.Any("players", players), slog.Int("waves", len(s.waves)))
	s.broadcast(protocol.GameStarted{
		NumberOfWaves: len(s.waves),
		LifePoints:    s.cfg.StartingLives,
		Players:       players,
	})
	s.timers.After(timerWave, s.cfg.FirstWaveDelay, s.advanceWave)
}

// PlayerTouched costs the player one life.
func (s *Session) PlayerTouched(pseudo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.livePlayer(pseudo)
	if p == nil {
		return
	}

	p.lives--
	if p.lives <= 0 {
		p.lives = 0
		p.kill()
		s.timers.Cancel(timerWatchdogPrefix + pseudo)
		s.logger.Info("player died", slog.String("pseudo", pseudo), slog.Int("wave", s.wave))
	} else {
		s.resetWatchdog(p)
	}

	s.checkWaveCompletion()
}

// EnemyKilled credits the player with a kill.
func (s *Session) EnemyKilled(pseudo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.livePlayer(pseudo)
	if p == nil {
		return
	}

	s.resetWatchdog(p)
	p.kills++
	p.totalKills++
}

// WaveCleared marks the player done with the current wave.
// Repeated reports for the same wave are ignored.
func (s *Session) WaveCleared(pseudo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.livePlayer(pseudo)
	if p == nil || p.clearedWave {
		return
	}

	s.timers.Cancel(timerWatchdogPrefix + pseudo)
	p.clearedWave = true
	p.wavesCleared++

	s.checkWaveCompletion()
}

// PlayerKilled forces the player's death.
func (s *Session) PlayerKilled(pseudo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return
	}
	p, ok := s.players[pseudo]
	if !ok {
		return
	}

	s.timers.Cancel(timerWatchdogPrefix + pseudo)
	p.kill()

	s.checkWaveCompletion()
}

// PlayerDisconnected forces the player's death and stops delivering events to them.
func (s *Session) PlayerDisconnected(pseudo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return
	}
	p, ok := s.players[pseudo]
	if !ok || p.disconnected {
		return
	}

	p.disconnected = true
	delete(s.conns, pseudo)
	s.timers.Cancel(timerWatchdogPrefix + pseudo)
	p.kill()
	s.logger.Info("player disconnected", slog.String("pseudo", pseudo), slog.Int("wave", s.wave))

	s.checkWaveCompletion()
}

// Active reports whether the session still accepts gameplay events.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status == StatusActive
}

// CompletedAt returns when the session completed, or false if it is still active.
func (s *Session) CompletedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.completedAt, s.status == StatusCompleted
}

// ConnectedPlayers returns the number of roster members that did not disconnect.
func (s *Session) ConnectedPlayers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]PlayerInfo, 0, len(s.roster))
	for _, pc := range s.roster {
		p := s.players[pc.Pseudo]
		players = append(players, PlayerInfo{
			Pseudo:         p.pseudo,
			Lives:          p.lives,
			Kills:          p.kills,
			IsAlive:        p.alive,
			HasClearedWave: p.clearedWave,
		})
	}

	return Snapshot{
		GameID:      s.id,
		Players:     players,
		CurrentWave: s.wave,
		TotalWaves:  len(s.waves),
		Status:      s.status,
		StartedAt:   s.startedAt.UnixMilli(),
	}
}

// Close cancels all pending timers without completing the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers.Stop()
}

func (s *Session) livePlayer(pseudo string) *player {
	if s.status != StatusActive {
		return nil
	}
	p, ok := s.players[pseudo]
	if !ok || !p.alive {
		return nil
	}
	return p
}

func (s *Session) advanceWave() {
	if s.status != StatusActive {
		return
	}

	s.wave++
	if s.wave > len(s.waves) {
		s.end()
		return
	}

	w := s.waves[s.wave-1]
	for _, p := range s.players {
		if !p.alive {
			continue
		}
		p.kills = 0
		p.clearedWave = false
		s.resetWatchdog(p)
	}

	s.logger.Info("wave started", slog.Int("wave", s.wave))
	s.broadcast(protocol.WaveStarted{
		WaveNumber:      w.Number,
		NumberOfEnemies: w.EnemiesPerLine,
		NumberOfLines:   w.Lines,
		EnemyLife:       w.EnemyLife,
	})
}

func (s *Session) resetWatchdog(p *player) {
	if s.cfg.InactivityTimeout <= 0 || !p.alive || p.clearedWave || s.wave == 0 || s.status != StatusActive {
		return
	}

	pseudo := p.pseudo
	s.timers.After(timerWatchdogPrefix+pseudo, s.cfg.InactivityTimeout, func() {
		s.watchdogFired(pseudo)
	})
}

func (s *Session) watchdogFired(pseudo string) {
	p, ok := s.players[pseudo]
	if !ok || s.status != StatusActive || !p.alive || p.clearedWave {
		return
	}

	p.lives = 0
	p.kill()
	s.logger.Warn("player inactive, forcing death",
		slog.String("pseudo", pseudo),
		slog.Int("wave", s.wave),
		slog.Duration("timeout", s.cfg.InactivityTimeout),
	)

	s.checkWaveCompletion()
}

func (s *Session) checkWaveCompletion() {
	if s.status != StatusActive {
		return
	}

	anyAlive := false
	for _, p := range s.players {
		if !p.clearedWave {
			return
		}
		anyAlive = anyAlive || p.alive
	}

	if !anyAlive {
		s.end()
		return
	}

	if s.timers.Pending(timerWave) {
		return
	}
	s.timers.After(timerWave, s.cfg.NextWaveDelay, s.advanceWave)
}

func (s *Session) end() {
	if s.status == StatusCompleted {
		return
	}
	s.status = StatusCompleted
	s.completedAt = s.now()
	s.timers.Stop()

	res := Result{
		GameID:  s.id,
		Players: make([]string, 0, len(s.roster)),
		Stats:   make([]protocol.PlayerStat, 0, len(s.roster)),
	}
	for _, pc := range s.roster {
		p := s.players[pc.Pseudo]
		res.Players = append(res.Players, p.pseudo)
		res.Stats = append(res.Stats, protocol.PlayerStat{
			Pseudo:       p.pseudo,
			TotalKills:   p.totalKills,
			WavesCleared: p.wavesCleared,
			Survived:     p.alive,
		})
		res.Victory = res.Victory || p.alive
		if !p.disconnected && !protocol.IsClosed(pc.Conn) {
			res.Survivors = append(res.Survivors, pc)
		}
	}
	res.AllPlayersDead = !res.Victory

	s.logger.Info("game ended",
		slog.Bool("victory", res.Victory),
		slog.Int("wave", s.wave),
		slog.Int("survivors", len(res.Survivors)),
	)
	s.broadcast(protocol.GameEnded{
		Victory:     res.Victory,
		PlayerStats: res.Stats,
	})

	s.done <- res
	close(s.done)
}

func (s *Session) broadcast(ev protocol.Event) {
	for _, pc := range s.roster {
		conn, ok := s.conns[pc.Pseudo]
		if !ok {
			continue
		}
		if err := conn.Send(ev); err != nil {
			s.logger.Warn("failed to deliver event",
				slog.String("pseudo", pc.Pseudo),
				slog.String("event", ev.EventType()),
				slog.Any("error", err),
			)
		}
	}
}
