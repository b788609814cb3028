// Package cache provides thread-safe caches for derived state: unread
// counts and conversation lists. Entries carry a short TTL and are
// invalidated by key on state-changing events. The cache is never the
// source of truth - a miss only costs a recompute from the store.
package cache

import (
	"time"

	"github.com/Scl-Ywr/confession-wall-sub003/errors"
)

// Cache is a generic cache parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value. Returns true if a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Size returns the current number of entries.
	Size() int

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close releases resources such as background goroutines.
	Close() error
}

// Keys for derived unread state.

// ConversationListKey is the cache key for a viewer's private
// conversation list.
func ConversationListKey(viewer string) string {
	return "convlist:" + viewer
}

// GroupListKey is the cache key for a member's group conversation list.
func GroupListKey(member string) string {
	return "grouplist:" + member
}

// UnreadCountKey is the cache key for one conversation's unread count.
func UnreadCountKey(viewer, counterpart string) string {
	return "unread:" + viewer + ":" + counterpart
}

// entryExpired reports whether an absolute expiry has passed.
func entryExpired(expiresAt time.Time) bool {
	return time.Now().After(expiresAt)
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
