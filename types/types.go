// Package types holds the shared domain types passed between the
// subscription manager, the unread service and the UI-facing listeners.
package types

import (
	"time"

	"github.com/Scl-Ywr/confession-wall-sub003/store"
)

// ConversationKind distinguishes the two conversation shapes.
type ConversationKind int

// Conversation kinds
const (
	ConversationPrivate ConversationKind = iota
	ConversationGroup
)

// String returns the string representation of the conversation kind
func (k ConversationKind) String() string {
	switch k {
	case ConversationPrivate:
		return "private"
	case ConversationGroup:
		return "group"
	default:
		return "unknown"
	}
}

// ContentType identifies what a chat message body carries.
type ContentType string

// Content types
const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

// Message is a chat message enriched with the sender's profile, ready for
// listener fan-out and notification dispatch.
type Message struct {
	ID           string
	Conversation ConversationKind
	SenderID     string
	GroupID      string // set for group messages only
	RecipientID  string
	Content      string
	ContentType  ContentType
	SentAt       time.Time

	// Sender is the resolved profile; nil when the lookup failed and the
	// "unknown user" fallback applies.
	Sender *store.Profile
}

// SenderName returns the display name for notification titles, with the
// fallback used when enrichment failed.
func (m *Message) SenderName() string {
	if m.Sender != nil && m.Sender.DisplayName != "" {
		return m.Sender.DisplayName
	}
	return "unknown user"
}

// UnreadUpdate reports a new unread count for one conversation.
type UnreadUpdate struct {
	Conversation ConversationKind
	ViewerID     string
	// CounterpartID is the peer for private conversations and the group
	// for group conversations.
	CounterpartID string
	Count         int
}
