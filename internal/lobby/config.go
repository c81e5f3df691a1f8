package lobby

import (
	"errors"
	"fmt"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/game"
)

// Config configures matchmaking and the post-game policy.
type Config struct {
	MinPlayers int
	MaxPlayers int
	// MatchInterval is how often the lobby is checked for a startable game.
	MatchInterval time.Duration
	// SweepInterval is how often completed sessions are checked for removal.
	SweepInterval time.Duration
	// Retention is how long a completed session stays visible before it is removed.
	Retention           time.Duration
	WipeRestartDelay    time.Duration
	VictoryRestartDelay time.Duration
	Game                game.Config
}

func DefaultConfig() Config {
	return Config{
		MinPlayers:          2,
		MaxPlayers:          10,
		MatchInterval:       2 * time.Second,
		SweepInterval:       30 * time.Second,
		Retention:           2 * time.Minute,
		WipeRestartDelay:    5 * time.Second,
		VictoryRestartDelay: 10 * time.Second,
		Game:                game.DefaultConfig(),
	}
}

var errInvalidConfig = errors.New("invalid lobby config")

func (c Config) Validate() error {
	if c.MinPlayers < 1 {
		return fmt.Errorf("%w: min players must be positive, got %d", errInvalidConfig, c.MinPlayers)
	}
	if c.MaxPlayers < c.MinPlayers {
		return fmt.Errorf("%w: max players %d below min players %d", errInvalidConfig, c.MaxPlayers, c.MinPlayers)
	}
	if c.MatchInterval <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("%w: intervals must be positive", errInvalidConfig)
	}
	if c.Retention < 0 || c.WipeRestartDelay < 0 || c.VictoryRestartDelay < 0 {
		return fmt.Errorf("%w: negative duration", errInvalidConfig)
	}

	return c.Game.Validate()
}
