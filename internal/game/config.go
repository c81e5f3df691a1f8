package game

import (
	"errors"
	"fmt"
	"time"
)

// Wave describes the enemy layout of one wave.
type Wave struct {
	Number         int
	EnemiesPerLine int
	Lines          int
	EnemyLife      int
}

// DefaultWaves returns the standard five-wave campaign.
func DefaultWaves() []Wave {
	return []Wave{
		{Number: 1, EnemiesPerLine: 5, Lines: 2, EnemyLife: 1},
		{Number: 2, EnemiesPerLine: 6, Lines: 2, EnemyLife: 1},
		{Number: 3, EnemiesPerLine: 7, Lines: 3, EnemyLife: 1},
		{Number: 4, EnemiesPerLine: 4, Lines: 2, EnemyLife: 2},
		{Number: 5, EnemiesPerLine: 5, Lines: 3, EnemyLife: 2},
	}
}

// Config configures a game session.
type Config struct {
	StartingLives int
	Waves         []Wave
	// InactivityTimeout is how long a living player may go without activity during a wave.
	// Zero disables the watchdog.
	InactivityTimeout time.Duration
	FirstWaveDelay    time.Duration
	NextWaveDelay     time.Duration
	// Now stamps session start and completion. Defaults to time.Now.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		StartingLives:     3,
		Waves:             DefaultWaves(),
		InactivityTimeout: 40 * time.Second,
		FirstWaveDelay:    2 * time.Second,
		NextWaveDelay:     3 * time.Second,
	}
}

var errInvalidConfig = errors.New("invalid game config")

func (c Config) Validate() error {
	if c.StartingLives < 1 {
		return fmt.Errorf("%w: starting lives must be positive, got %d", errInvalidConfig, c.StartingLives)
	}
	if len(c.Waves) == 0 {
		return fmt.Errorf("%w: no waves", errInvalidConfig)
	}
	if c.InactivityTimeout < 0 || c.FirstWaveDelay < 0 || c.NextWaveDelay < 0 {
		return fmt.Errorf("%w: negative duration", errInvalidConfig)
	}

	return nil
}
