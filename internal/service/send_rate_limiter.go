package service

import (
	"sync"
	"time"

	"securechat/internal/clock"
)

// SendRateLimiter limita la frecuencia de envío de mensajes por remitente.
type SendRateLimiter interface {
	Allow(key string) bool
}

type sendRateLimiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	max    int
	hits   map[string][]time.Time
}

// NewSendRateLimiter crea un rate limiter en memoria de ventana deslizante.
// max no positivo desactiva el límite.
func NewSendRateLimiter(clk clock.Clock, window time.Duration, max int) SendRateLimiter {
	if max <= 0 {
		return unlimited{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if window <= 0 {
		window = time.Minute
	}
	return &sendRateLimiter{
		clock:  clk,
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
	}
}

func (l *sendRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	cutoff := now.Add(-l.window)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

type unlimited struct{}

func (unlimited) Allow(string) bool { return true }
