// Package ratelimit implements a plain token-bucket limiter used to keep a
// misbehaving flow (stuck in a recirculation loop, or hammering an
// unsupported action) from flooding the log. It has no adaptive tuning:
// the datapath's hot-path error cases don't need it, only a steady cap.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Limiter is a token-bucket rate limiter safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	rps        float64
	burst      float64
	tokens     float64
	lastRefill time.Time

	allowed int64
	blocked int64
}

// New creates a Limiter. Zero values default to 10 events/sec, burst 20.
func New(cfg Config) *Limiter {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &Limiter{
		rps:        cfg.RPS,
		burst:      float64(cfg.Burst),
		tokens:     float64(cfg.Burst),
		lastRefill: time.Now(),
	}
}

// Allow reports whether one event may proceed, consuming a token if so.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now
	l.tokens = math.Min(l.tokens+elapsed*l.rps, l.burst)

	if l.tokens >= 1 {
		l.tokens--
		l.allowed++
		return true
	}
	l.blocked++
	return false
}

// Stats returns the lifetime allowed/blocked counts.
func (l *Limiter) Stats() (allowed, blocked int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowed, l.blocked
}
