// Package ratelimit provides sliding-window admission control keyed by a
// logical actor (a chat, a command sender).
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	hits    map[string][]time.Time
	logger  *zap.Logger
	nowFunc func() time.Time
}

func New(maxPerMinute int, logger *zap.Logger) *Limiter {
	return &Limiter{
		max:     maxPerMinute,
		window:  time.Minute,
		hits:    make(map[string][]time.Time),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Allow records one hit for actor and reports whether it fits inside the
// window.
func (l *Limiter) Allow(actor string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	windowStart := now.Add(-l.window)

	valid := l.hits[actor][:0]
	for _, ts := range l.hits[actor] {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= l.max {
		l.hits[actor] = valid
		l.logger.Warn("rate limit hit",
			zap.String("actor", actor),
			zap.Int("max_per_window", l.max),
		)
		return false
	}

	l.hits[actor] = append(valid, now)
	return true
}

// Cleanup drops actors whose window has fully expired. Meant to run
// periodically so idle actors do not accumulate.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := l.nowFunc().Add(-l.window)
	for actor, timestamps := range l.hits {
		live := false
		for _, ts := range timestamps {
			if ts.After(windowStart) {
				live = true
				break
			}
		}
		if !live {
			delete(l.hits, actor)
		}
	}
}
