// Package cache keeps a short-lived, newest-first view of each pairwise
// conversation in the shared key-value store. The authoritative message
// store remains the source of truth; anything missing or unreadable here is
// reported as a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatservice/internal/domain"
)

const (
	// Capacity is the maximum number of messages kept per conversation.
	Capacity = 50
	// TTL is the lifetime of a conversation entry, reset on every write.
	TTL = 300 * time.Second
)

// Key returns the cache key for the conversation between a and b. The key
// does not depend on argument order.
func Key(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("conv:%d:%d", a, b)
}

// Conversations is the conversation cache.
type Conversations struct {
	store domain.KeyValueStore
}

// New creates a conversation cache on top of store.
func New(store domain.KeyValueStore) *Conversations {
	return &Conversations{store: store}
}

// Read returns the [offset, offset+limit) window of the cached conversation
// between a and b. The boolean is false on a miss, which includes a payload
// that does not decode as a list of messages.
//
// Windows past the first page are not reliable: the cache holds at most
// Capacity messages and may lag the authoritative store, so callers should
// only read at offset 0.
func (c *Conversations) Read(ctx context.Context, a, b int64, limit, offset int) ([]domain.Message, bool, error) {
	items, ok, err := c.load(ctx, Key(a, b))
	if err != nil || !ok {
		return nil, false, err
	}
	offset = max(offset, 0)
	limit = max(limit, 0)
	if offset >= len(items) {
		return []domain.Message{}, true, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], true, nil
}

// Push prepends msg to the conversation between a and b, keeps the newest
// Capacity messages and refreshes the TTL. Concurrent pushes for the same
// pair race and the last write wins; a message lost that way is still in
// the authoritative store.
func (c *Conversations) Push(ctx context.Context, a, b int64, msg domain.Message) error {
	key := Key(a, b)
	items, _, err := c.load(ctx, key)
	if err != nil {
		return err
	}
	next := make([]domain.Message, 0, len(items)+1)
	next = append(next, msg)
	next = append(next, items...)
	return c.save(ctx, key, next)
}

// Replace overwrites the conversation between a and b with msgs, which
// must already be newest first. Nothing from the previous entry is kept.
func (c *Conversations) Replace(ctx context.Context, a, b int64, msgs []domain.Message) error {
	return c.save(ctx, Key(a, b), msgs)
}

func (c *Conversations) load(ctx context.Context, key string) ([]domain.Message, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	items, err := decode(raw)
	if err != nil {
		return nil, false, nil
	}
	return items, true, nil
}

// cachedMessage mirrors domain.Message with every field optional so that
// absent fields can be told apart from zero values.
type cachedMessage struct {
	ID          *int64     `json:"id"`
	SenderID    int64      `json:"sender_id"`
	RecipientID int64      `json:"recipient_id"`
	Content     *string    `json:"content"`
	CreatedAt   *time.Time `json:"created_at"`
}

var errBadPayload = errors.New("not a list of messages")

func decode(raw string) ([]domain.Message, error) {
	var rows []*cachedMessage
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, errBadPayload
	}
	items := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		if r == nil || r.ID == nil || r.Content == nil || r.CreatedAt == nil ||
			r.SenderID == 0 || r.RecipientID == 0 {
			return nil, errBadPayload
		}
		items = append(items, domain.Message{
			ID:          *r.ID,
			SenderID:    r.SenderID,
			RecipientID: r.RecipientID,
			Content:     *r.Content,
			CreatedAt:   *r.CreatedAt,
		})
	}
	return items, nil
}

func (c *Conversations) save(ctx context.Context, key string, items []domain.Message) error {
	if len(items) > Capacity {
		items = items[:Capacity]
	}
	if items == nil {
		items = []domain.Message{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	return c.store.Set(ctx, key, string(b), TTL)
}
