// Package cache implements the hot-message cache (C4): an advisory,
// per-room bounded list of the most recently sent message projections,
// used to serve first-page history reads without touching the document
// store. The cache is never authoritative — a cold read always falls
// through to the document store, and invalidation is best-effort.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"chatroom/internal/store"
)

const (
	ttl      = 5 * time.Minute
	maxItems = 50
)

func key(roomID string) string {
	return "recent:room:" + roomID
}

// Cache is a thin JSON-blob wrapper over Store's string get/set,
// matching the teacher's preference for storing pre-serialized
// projections rather than per-field hashes for list-shaped data.
type Cache struct {
	store store.Store
}

func New(s store.Store) *Cache {
	return &Cache{store: s}
}

// CacheRecentMessages overwrites the cached list for roomID with msgs,
// most-recent first, truncated to maxItems.
func (c *Cache) CacheRecentMessages(ctx context.Context, roomID string, msgs []json.RawMessage) error {
	if len(msgs) > maxItems {
		msgs = msgs[:maxItems]
	}
	payload, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key(roomID), string(payload), ttl)
}

// GetRecentMessages returns the cached list for roomID, or nil if there
// is no cache entry (a cache miss, not an error).
func (c *Cache) GetRecentMessages(ctx context.Context, roomID string) ([]json.RawMessage, error) {
	raw, err := c.store.Get(ctx, key(roomID))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// PrependMessage adds msg to the front of roomID's cached list and
// re-truncates to maxItems, refreshing the TTL. If there is no existing
// cache entry, it seeds one with just msg — cold reads still fall
// through to the document store, so a partial cache is never incorrect,
// only incomplete.
func (c *Cache) PrependMessage(ctx context.Context, roomID string, msg json.RawMessage) error {
	existing, err := c.GetRecentMessages(ctx, roomID)
	if err != nil {
		return err
	}
	updated := append([]json.RawMessage{msg}, existing...)
	return c.CacheRecentMessages(ctx, roomID, updated)
}

// Invalidate drops the cached list for roomID, used on edit/delete as a
// best-effort invalidation; a subsequent write re-seeds the cache.
func (c *Cache) Invalidate(ctx context.Context, roomID string) error {
	return c.store.Del(ctx, key(roomID))
}
