// Package protocol defines the events exchanged between players and the game master,
// and the connection capability the orchestrator delivers them through.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client event types.
const (
	TypePlayerJoined       = "player-joined"
	TypePlayerTouched      = "player-touched"
	TypeWaveCleared        = "wave-cleared"
	TypeEnemyKilled        = "enemy-killed"
	TypePlayerKilled       = "player-killed"
	TypePlayerDisconnected = "player-disconnected"
)

// Server event types.
const (
	TypeLobbyUpdate = "lobby-update"
	TypeGameStarted = "game-started"
	TypeWaveStarted = "wave-started"
	TypeGameEnded   = "game-ended"
	TypeError       = "error"
)

// Error codes carried by [Error].
const (
	CodeInvalidPseudo  = "INVALID_PSEUDO"
	CodePseudoInUse    = "PSEUDO_IN_USE"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeServerShutdown = "SERVER_SHUTDOWN"
)

// ErrClosed is returned when sending to a connection that is closed.
var ErrClosed = errors.New("connection closed")

// Conn is a player's connection as seen by the orchestrator.
// Implementations must be safe for concurrent use.
type Conn interface {
	// Send enqueues an event for delivery. It never blocks on network I/O.
	Send(ev Event) error
	// Close closes the connection. Events sent before Close are still delivered.
	// Calling Close more than once is a no-op.
	Close() error
	// Done is closed once the connection can no longer deliver events.
	Done() <-chan struct{}
}

// IsClosed reports whether conn can no longer deliver events.
func IsClosed(conn Conn) bool {
	if conn == nil {
		return true
	}

	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}

// ClientEvent is an event received from a player.
type ClientEvent struct {
	Type   string `json:"type"`
	Pseudo string `json:"pseudo,omitempty"`
}

// Event is an event sent to players.
type Event interface {
	EventType() string
}

// LobbyUpdate is a snapshot of the waiting lobby.
type LobbyUpdate struct {
	WaitingPlayers  []string `json:"waitingPlayers"`
	RequiredPlayers int      `json:"requiredPlayers"`
	CurrentPlayers  int      `json:"currentPlayers"`
}

func (LobbyUpdate) EventType() string { return TypeLobbyUpdate }

func (e LobbyUpdate) MarshalJSON() ([]byte, error) {
	type plain LobbyUpdate
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeLobbyUpdate, plain(e)})
}

// GameStarted announces a new game to its roster.
type GameStarted struct {
	NumberOfWaves int      `json:"numberOfWaves"`
	LifePoints    int      `json:"lifePoints"`
	Players       []string `json:"players"`
}

func (GameStarted) EventType() string { return TypeGameStarted }

func (e GameStarted) MarshalJSON() ([]byte, error) {
	type plain GameStarted
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeGameStarted, plain(e)})
}

// WaveStarted announces the enemy layout of a wave.
type WaveStarted struct {
	WaveNumber      int `json:"waveNumber"`
	NumberOfEnemies int `json:"numberOfEnemies"`
	NumberOfLines   int `json:"numberOfLines"`
	EnemyLife       int `json:"enemyLife"`
}

func (WaveStarted) EventType() string { return TypeWaveStarted }

func (e WaveStarted) MarshalJSON() ([]byte, error) {
	type plain WaveStarted
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeWaveStarted, plain(e)})
}

// PlayerStat is a player's result in a finished game.
type PlayerStat struct {
	Pseudo       string `json:"pseudo"`
	TotalKills   int    `json:"totalKills"`
	WavesCleared int    `json:"wavesCleared"`
	Survived     bool   `json:"survived"`
}

// GameEnded closes a game.
type GameEnded struct {
	Victory     bool         `json:"victory"`
	PlayerStats []PlayerStat `json:"playerStats"`
}

func (GameEnded) EventType() string { return TypeGameEnded }

func (e GameEnded) MarshalJSON() ([]byte, error) {
	type plain GameEnded
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeGameEnded, plain(e)})
}

// Error reports a rejected request or a server condition.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (Error) EventType() string { return TypeError }

func (e Error) MarshalJSON() ([]byte, error) {
	type plain Error
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{TypeError, plain(e)})
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// Decode parses a server event.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event type: %w", err)
	}

	var ev Event
	var err error
	switch head.Type {
	case TypeLobbyUpdate:
		var e LobbyUpdate
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeGameStarted:
		var e GameStarted
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeWaveStarted:
		var e WaveStarted
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeGameEnded:
		var e GameEnded
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeError:
		var e Error
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}

	return ev, nil
}
