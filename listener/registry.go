// Package listener implements the observer registry that fans enriched
// messages and unread-count changes out to UI-layer callbacks. Fan-out is
// synchronous and follows registration order; a panicking listener is
// recovered and logged so the rest still run.
package listener

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Scl-Ywr/confession-wall-sub003/types"
)

// MessageListener receives enriched messages.
type MessageListener func(msg *types.Message)

// UnreadListener receives unread-count changes.
type UnreadListener func(update types.UnreadUpdate)

type messageEntry struct {
	id int64
	fn MessageListener
}

type unreadEntry struct {
	id int64
	fn UnreadListener
}

// Registry is a thread-safe observer registry with deterministic,
// insertion-ordered fan-out.
type Registry struct {
	mu     sync.RWMutex
	nextID int64
	msgs   []messageEntry
	unread []unreadEntry
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// OnMessage registers a message listener and returns its registration id.
func (r *Registry) OnMessage(fn MessageListener) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.msgs = append(r.msgs, messageEntry{id: r.nextID, fn: fn})
	return r.nextID
}

// OnUnreadChange registers an unread-count listener and returns its
// registration id.
func (r *Registry) OnUnreadChange(fn UnreadListener) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.unread = append(r.unread, unreadEntry{id: r.nextID, fn: fn})
	return r.nextID
}

// Remove drops the listener with the given id. Returns true if it existed.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.msgs {
		if e.id == id {
			r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
			return true
		}
	}
	for i, e := range r.unread {
		if e.id == id {
			r.unread = append(r.unread[:i], r.unread[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes all listeners.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
	r.unread = nil
}

// Counts returns the number of registered message and unread listeners.
func (r *Registry) Counts() (messages, unread int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.msgs), len(r.unread)
}

// NotifyMessage fans a message out to all message listeners in
// registration order.
func (r *Registry) NotifyMessage(msg *types.Message) {
	r.mu.RLock()
	entries := make([]messageEntry, len(r.msgs))
	copy(entries, r.msgs)
	r.mu.RUnlock()

	for _, e := range entries {
		r.invoke(func() { e.fn(msg) }, "message", e.id)
	}
}

// NotifyUnread fans an unread update out to all unread listeners in
// registration order.
func (r *Registry) NotifyUnread(update types.UnreadUpdate) {
	r.mu.RLock()
	entries := make([]unreadEntry, len(r.unread))
	copy(entries, r.unread)
	r.mu.RUnlock()

	for _, e := range entries {
		r.invoke(func() { e.fn(update) }, "unread", e.id)
	}
}

// invoke runs one callback, recovering panics so a bad listener cannot
// stop the fan-out.
func (r *Registry) invoke(fn func(), kind string, id int64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panic",
				"kind", kind, "listener_id", id, "panic", fmt.Sprint(rec))
		}
	}()
	fn()
}
