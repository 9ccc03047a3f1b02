package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"chatservice/internal/domain"
)

type kvEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// KV is an in-memory key-value store with per-key TTL. Expired keys are
// dropped lazily on access.
type KV struct {
	mu      sync.Mutex
	entries map[string]kvEntry
	now     func() time.Time
}

var _ domain.KeyValueStore = (*KV)(nil)

// NewKV creates an empty store using the wall clock.
func NewKV() *KV {
	return NewKVWithClock(time.Now)
}

// NewKVWithClock creates an empty store that reads time from now.
func NewKVWithClock(now func() time.Time) *KV {
	return &KV{entries: make(map[string]kvEntry), now: now}
}

// Get returns the live value for key.
func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value with the given TTL. A non-positive TTL stores the key
// without expiry.
func (s *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Incr increments the integer at key, keeping its TTL.
func (s *KV) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	var n int64
	if ok {
		var err error
		n, err = strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, nil
}

// TTL returns the remaining lifetime of key, or false if the key is absent
// or has no expiry.
func (s *KV) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, false
	}
	return e.expiresAt.Sub(s.now()), true
}

// Close is a no-op.
func (s *KV) Close() error { return nil }

func (s *KV) liveLocked(key string) (kvEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return kvEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return kvEntry{}, false
	}
	return e, true
}
