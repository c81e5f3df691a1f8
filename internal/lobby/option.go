package lobby

import (
	"log/slog"
	"time"
)

// Option configures a [Manager].
type Option func(*Manager)

// WithLogger sets the logger for the manager and the sessions it starts.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the clock used for join times, game ids and retention.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}
