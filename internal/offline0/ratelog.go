package offline0

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultOverflowLogEvery = time.Minute

// rateLimitedLogger emits at most one message per interval; the rest are dropped.
type rateLimitedLogger struct {
	logger   zerolog.Logger
	level    zerolog.Level
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
}

func newRateLimitedLogger(logger zerolog.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{logger: logger, level: zerolog.WarnLevel, interval: interval}
}

func (l *rateLimitedLogger) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		return false
	}
	l.lastAt = now
	return true
}

func (l *rateLimitedLogger) Printf(format string, args ...any) {
	if !l.allow() {
		return
	}
	l.logger.WithLevel(l.level).Msgf(format, args...)
}

// Err logs err with msg at the configured level, subject to the same limit.
func (l *rateLimitedLogger) Err(err error, msg string) {
	if !l.allow() {
		return
	}
	l.logger.WithLevel(l.level).Err(err).Msg(msg)
}
