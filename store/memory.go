package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Scl-Ywr/confession-wall-sub003/errors"
)

// flagState tracks one (message, member) read flag in a group.
type flagState struct {
	groupID string
	read    bool
}

// Memory is an in-process implementation of the store interfaces. It backs
// unit tests and single-node local runs; production deployments use the
// postgres implementation.
type Memory struct {
	mu sync.RWMutex

	profiles map[string]Profile
	members  map[string]map[string]bool // groupID -> memberID -> present
	counters map[string]int             // "viewer|peer" -> count
	readMsgs map[string]bool            // private messageID -> read
	flags    map[string]*flagState      // "messageID|memberID" -> flag
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]Profile),
		members:  make(map[string]map[string]bool),
		counters: make(map[string]int),
		readMsgs: make(map[string]bool),
		flags:    make(map[string]*flagState),
	}
}

// AddProfile seeds a user profile.
func (m *Memory) AddProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// AddMember seeds group membership.
func (m *Memory) AddMember(groupID, memberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[groupID] == nil {
		m.members[groupID] = make(map[string]bool)
	}
	m.members[groupID][memberID] = true
}

// RemoveMember drops a member from a group.
func (m *Memory) RemoveMember(groupID, memberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members, ok := m.members[groupID]; ok {
		delete(members, memberID)
	}
}

// GetProfile implements ProfileStore.
func (m *Memory) GetProfile(_ context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return &p, nil
}

// IsMember implements GroupStore.
func (m *Memory) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[groupID][userID], nil
}

func counterKey(viewer, peer string) string {
	return viewer + "|" + peer
}

func flagKey(messageID, memberID string) string {
	return messageID + "|" + memberID
}

// PrivateCount implements ChatStore.
func (m *Memory) PrivateCount(_ context.Context, viewer, peer string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[counterKey(viewer, peer)], nil
}

// SetPrivateCount implements ChatStore.
func (m *Memory) SetPrivateCount(_ context.Context, viewer, peer string, count int) error {
	if count < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("negative unread count %d", count),
			"Memory", "SetPrivateCount", "validate count")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counterKey(viewer, peer)] = count
	return nil
}

// MarkMessagesRead implements ChatStore.
func (m *Memory) MarkMessagesRead(_ context.Context, messageIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range messageIDs {
		m.readMsgs[id] = true
	}
	return nil
}

// FlagUnread implements ChatStore.
func (m *Memory) FlagUnread(_ context.Context, groupID, messageID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := flagKey(messageID, memberID)
	if _, exists := m.flags[key]; exists {
		// A read flag never transitions back to unread
		return nil
	}
	m.flags[key] = &flagState{groupID: groupID}
	return nil
}

// ClearFlags implements ChatStore.
func (m *Memory) ClearFlags(_ context.Context, messageIDs []string, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range messageIDs {
		if f, ok := m.flags[flagKey(id, memberID)]; ok {
			f.read = true
		}
	}
	return nil
}

// CountUnreadFlags implements ChatStore.
func (m *Memory) CountUnreadFlags(_ context.Context, memberID, groupID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for key, f := range m.flags {
		if f.groupID != groupID || f.read {
			continue
		}
		// Key layout is "messageID|memberID"
		if len(key) > len(memberID) && key[len(key)-len(memberID):] == memberID &&
			key[len(key)-len(memberID)-1] == '|' {
			count++
		}
	}
	return count, nil
}

// IsMessageRead reports whether a private message has been marked read.
// Test helper.
func (m *Memory) IsMessageRead(messageID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readMsgs[messageID]
}
