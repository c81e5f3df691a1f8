package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/game"
	"github.com/JoanyBuclon/Space-Invader/internal/lobby"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type config struct {
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	// LogHistory is the number of log lines replayed to new log stream subscribers.
	LogHistory    int           `env:"LOG_HISTORY" envDefault:"200"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`
	HTTP          httpConfig
	QUIC          quicConfig
	Lobby         lobbyConfig
	Game          gameConfig
	Cert          certConfig
}

type httpConfig struct {
	// Listen is the listen address for game WebSocket and monitoring endpoints.
	Listen string `env:"HTTP_LISTEN" envDefault:":3001"`
	// AllowedOrigins for CORS and WebSocket upgrades. "*" allows any origin.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*"`
	// DashboardInterval is how often dashboard clients receive an update.
	DashboardInterval time.Duration `env:"DASHBOARD_INTERVAL" envDefault:"2s"`
}

type quicConfig struct {
	// Listen is the UDP listen address for native clients. Empty disables QUIC.
	Listen string `env:"QUIC_LISTEN" envDefault:":50051"`
}

type lobbyConfig struct {
	MinPlayers          int           `env:"MIN_PLAYERS" envDefault:"2"`
	MaxPlayers          int           `env:"MAX_PLAYERS" envDefault:"10"`
	MatchInterval       time.Duration `env:"MATCH_INTERVAL" envDefault:"2s"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	Retention           time.Duration `env:"RETENTION" envDefault:"2m"`
	WipeRestartDelay    time.Duration `env:"WIPE_RESTART_DELAY" envDefault:"5s"`
	VictoryRestartDelay time.Duration `env:"VICTORY_RESTART_DELAY" envDefault:"10s"`
}

type gameConfig struct {
	StartingLives int `env:"STARTING_LIVES" envDefault:"3"`
	// InactivityTimeout accepts milliseconds ("40000") or a duration ("40s").
	InactivityTimeout millis        `env:"INACTIVITY_TIMEOUT" envDefault:"40000"`
	FirstWaveDelay    time.Duration `env:"FIRST_WAVE_DELAY" envDefault:"2s"`
	NextWaveDelay     time.Duration `env:"NEXT_WAVE_DELAY" envDefault:"3s"`
}

type certConfig struct {
	// SelfSigned indicates whether to use a self-signed certificate for QUIC.
	SelfSigned bool `env:"CERT_SELF_SIGNED" envDefault:"true"`
	// Dir to store certificates. The self-signed CA is written there for clients to trust.
	Dir string `env:"CERT_DIR" envDefault:"certs"`
	// Domains to request or generate certificates for.
	Domains []string `env:"CERT_DOMAINS" envDefault:"localhost"`
}

// millis is a duration that can be given as a plain number of milliseconds.
type millis time.Duration

func (m *millis) UnmarshalText(text []byte) error {
	if ms, err := strconv.ParseInt(string(text), 10, 64); err == nil {
		*m = millis(time.Duration(ms) * time.Millisecond)
		return nil
	}

	d, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: want milliseconds or a duration", text)
	}
	*m = millis(d)
	return nil
}

func (m millis) String() string {
	return time.Duration(m).String()
}

func (c config) lobby() lobby.Config {
	return lobby.Config{
		MinPlayers:          c.Lobby.MinPlayers,
		MaxPlayers:          c.Lobby.MaxPlayers,
		MatchInterval:       c.Lobby.MatchInterval,
		SweepInterval:       c.Lobby.SweepInterval,
		Retention:           c.Lobby.Retention,
		WipeRestartDelay:    c.Lobby.WipeRestartDelay,
		VictoryRestartDelay: c.Lobby.VictoryRestartDelay,
		Game: game.Config{
			StartingLives:     c.Game.StartingLives,
			Waves:             game.DefaultWaves(),
			InactivityTimeout: time.Duration(c.Game.InactivityTimeout),
			FirstWaveDelay:    c.Game.FirstWaveDelay,
			NextWaveDelay:     c.Game.NextWaveDelay,
		},
	}
}

// loadConfig reads the configuration from the environment, after loading
// variables from envFiles that exist. Variables already set take precedence.
func loadConfig(envFiles ...string) (config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.lobby().Validate(); err != nil {
		return config{}, err
	}
	if cfg.HTTP.DashboardInterval <= 0 {
		return config{}, errors.New("dashboard interval must be positive")
	}
	if cfg.QUIC.Listen != "" && !cfg.Cert.SelfSigned && len(cfg.Cert.Domains) == 0 {
		return config{}, errors.New("QUIC needs CERT_DOMAINS or CERT_SELF_SIGNED")
	}

	return cfg, nil
}
