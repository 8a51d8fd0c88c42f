// Package ratelimit gates inbound event rate per identity. The counter lives
// in a shared store so the budget holds across all server processes; when the
// store is unreachable the limiter degrades to best-effort local counting
// instead of failing message handling.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CounterStore increments the counter behind key for the current window and
// returns the post-increment count. The store owns window expiry.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Config struct {
	Window    time.Duration
	MaxEvents int
}

type Limiter struct {
	cfg    Config
	store  CounterStore
	logger *slog.Logger

	// per-identity local limiters, only consulted when the store errors
	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

func New(cfg Config, store CounterStore, logger *slog.Logger) *Limiter {
	return &Limiter{
		cfg:      cfg,
		store:    store,
		logger:   logger.With(slog.String("component", "rate_limiter")),
		fallback: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether identity userID may send one more event in the
// current fixed window. A throttled event is dropped by the caller; the
// connection stays open.
func (l *Limiter) Allow(ctx context.Context, userID string) bool {
	if l.cfg.MaxEvents <= 0 {
		return true
	}

	key := windowKey(userID, l.cfg.Window)
	count, err := l.store.Incr(ctx, key, l.cfg.Window)
	if err != nil {
		l.logger.Warn("Counter store unavailable, falling back to local limiting",
			slog.String("userID", userID),
			slog.Any("error", err),
		)
		return l.allowLocal(userID)
	}
	return count <= int64(l.cfg.MaxEvents)
}

func (l *Limiter) allowLocal(userID string) bool {
	l.mu.Lock()
	lim, ok := l.fallback[userID]
	if !ok {
		// Same budget as the distributed window, enforced process-locally.
		perSecond := float64(l.cfg.MaxEvents) / l.cfg.Window.Seconds()
		lim = rate.NewLimiter(rate.Limit(perSecond), l.cfg.MaxEvents)
		l.fallback[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// windowKey buckets time into fixed windows so every process increments the
// same key for the same identity within one window.
func windowKey(userID string, window time.Duration) string {
	bucket := time.Now().UnixMilli() / window.Milliseconds()
	return "ratelimit:" + userID + ":" + strconv.FormatInt(bucket, 10)
}
