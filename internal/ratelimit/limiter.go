// Package ratelimit implements fixed-window rate limiting on top of the
// shared key-value store.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"chatservice/internal/domain"
)

// Window is the length of a rate-limit window. It starts at the first
// counted attempt and is not extended by later ones.
const Window = 60 * time.Second

// Decision is the outcome of a rate-limit check.
type Decision int

const (
	// Allowed means the attempt was counted and may proceed.
	Allowed Decision = iota
	// Rejected means the window is exhausted; the counter was not changed.
	Rejected
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "rejected"
}

// Limiter caps attempts per subject within a namespace, e.g. login
// attempts per IP address or sends per user.
type Limiter struct {
	store     domain.KeyValueStore
	namespace string
	limit     int
}

// New creates a limiter allowing limit attempts per subject per Window.
// Keys are "rl:<namespace>:<subject>".
func New(store domain.KeyValueStore, namespace string, limit int) *Limiter {
	return &Limiter{store: store, namespace: namespace, limit: limit}
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int { return l.limit }

// Key returns the store key used for subject.
func (l *Limiter) Key(subject string) string {
	return "rl:" + l.namespace + ":" + subject
}

// Allow counts an attempt for subject against the configured ceiling.
func (l *Limiter) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.CheckAndIncrement(ctx, subject, l.limit)
}

// CheckAndIncrement counts an attempt for subject against limit.
//
// The absent-window path is a read followed by a plain set, not an atomic
// create: two first attempts that both observe no window each write 1, so
// one attempt goes uncounted and the window admits limit+1.
func (l *Limiter) CheckAndIncrement(ctx context.Context, subject string, limit int) (Decision, error) {
	key := l.Key(subject)
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return Rejected, err
	}

	count, parseErr := strconv.Atoi(raw)
	if !ok || parseErr != nil {
		// An unreadable counter is treated as no window at all.
		if err := l.store.Set(ctx, key, "1", Window); err != nil {
			return Rejected, err
		}
		return Allowed, nil
	}

	if count >= limit {
		return Rejected, nil
	}
	if _, err := l.store.Incr(ctx, key); err != nil {
		return Rejected, err
	}
	return Allowed, nil
}
