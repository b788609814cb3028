package feed

import (
	"context"
	"sync"
)

// Memory is an in-process Feed for tests and single-node deployments.
// Emit delivers synchronously to every open subscription whose filter
// matches.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*memorySub
}

type memorySub struct {
	filter  Filter
	handler Handler
}

// NewMemory creates an empty in-process feed.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int64]*memorySub)}
}

// Open registers a handler for the filter.
func (m *Memory) Open(_ context.Context, filter Filter, handler Handler) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = &memorySub{filter: filter, handler: handler}
	return &memoryHandle{feed: m, id: id}, nil
}

// Emit delivers one inserted record to all matching subscriptions.
func (m *Memory) Emit(collection, key string, data []byte) {
	m.mu.RLock()
	var matched []Handler
	for _, sub := range m.subs {
		if sub.filter.Collection != collection {
			continue
		}
		if sub.filter.Key != "" && sub.filter.Key != key {
			continue
		}
		matched = append(matched, sub.handler)
	}
	m.mu.RUnlock()

	for _, h := range matched {
		h(data)
	}
}

// OpenCount reports the number of open subscriptions.
func (m *Memory) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

type memoryHandle struct {
	feed *Memory
	id   int64
}

func (h *memoryHandle) Close() error {
	h.feed.mu.Lock()
	defer h.feed.mu.Unlock()
	delete(h.feed.subs, h.id)
	return nil
}
