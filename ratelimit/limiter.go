// Package ratelimit throttles repeated authentication failures per key.
//
// Each key moves through Clean, Accumulating and Blocked states. Failures are
// counted inside a fixed window that starts at the first failure; reaching
// MaxAttempts blocks the key for BlockDuration. An expired window is deleted
// on the next read rather than reset in place.
//
// State lives behind the [Store] interface. [MemoryStore] is process-local and
// lost on restart; [RedisStore] shares state between instances.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts   = 5
	DefaultWindow        = 5 * time.Minute
	DefaultBlockDuration = 10 * time.Minute

	// UnknownKey replaces identifiers that are empty after normalization.
	UnknownKey = "unknown"
)

// ErrStoreUnavailable wraps backend failures from a Store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Entry is the per-key failure state. A zero BlockedUntil means not blocked.
type Entry struct {
	Count        int
	WindowStart  time.Time
	BlockedUntil time.Time
}

// Store persists entries. Get reports found=false for missing or expired keys.
// Put replaces the entry and keeps it for at least ttl.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Config tunes a Limiter. Zero fields take the package defaults.
type Config struct {
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
}

// Limiter applies the window/block state machine over a Store.
//
// Get followed by Put is not atomic, so two concurrent failures for the same
// key may be counted once. That weakens throttling by at most one attempt and
// never changes an authorization decision.
type Limiter struct {
	store Store
	cfg   Config
}

// New returns a Limiter over store. A nil store gets a fresh MemoryStore.
func New(store Store, cfg Config) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultBlockDuration
	}
	return &Limiter{store: store, cfg: cfg}
}

// NormalizeKey trims and lowercases raw so throttling is case-insensitive on
// email. Empty input maps to UnknownKey.
func NormalizeKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return UnknownKey
	}
	return key
}

// IsLimited reports whether key is blocked or has used up its window.
func (l *Limiter) IsLimited(ctx context.Context, key string, now time.Time) (bool, error) {
	key = NormalizeKey(key)
	e, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if !e.BlockedUntil.IsZero() && e.BlockedUntil.After(now) {
		return true, nil
	}
	if l.windowExpired(e, now) {
		if err := l.store.Delete(ctx, key); err != nil {
			return false, err
		}
		return false, nil
	}
	return e.Count >= l.cfg.MaxAttempts, nil
}

// RecordFailure counts one failed attempt for key at now.
func (l *Limiter) RecordFailure(ctx context.Context, key string, now time.Time) error {
	key = NormalizeKey(key)
	e, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return err
	}

	if !ok || l.windowExpired(e, now) {
		e = Entry{Count: 1, WindowStart: now}
	} else {
		e.Count++
		if e.Count >= l.cfg.MaxAttempts {
			e.BlockedUntil = now.Add(l.cfg.BlockDuration)
		}
	}

	return l.store.Put(ctx, key, e, l.ttl(e, now))
}

// Clear removes all state for key. Called after a successful attempt.
func (l *Limiter) Clear(ctx context.Context, key string) error {
	return l.store.Delete(ctx, NormalizeKey(key))
}

func (l *Limiter) windowExpired(e Entry, now time.Time) bool {
	return !now.Before(e.WindowStart.Add(l.cfg.Window))
}

// ttl keeps an entry until both its window and its block have ended.
func (l *Limiter) ttl(e Entry, now time.Time) time.Duration {
	until := e.WindowStart.Add(l.cfg.Window)
	if e.BlockedUntil.After(until) {
		until = e.BlockedUntil
	}
	if d := until.Sub(now); d > 0 {
		return d
	}
	return time.Millisecond
}
