// Package store defines the relay's view of the external datastore: point
// reads and writes for unread counters and per-message read flags, profile
// lookup, and group membership checks. The datastore itself (schema,
// migrations, durability) is owned elsewhere; these interfaces are the
// call/response surface the relay consumes.
package store

import "context"

// Profile is the subset of a user record needed to enrich messages.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url"`
}

// ProfileStore resolves user profiles for message enrichment.
type ProfileStore interface {
	// GetProfile returns the profile for a user, or errors.ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// GroupStore answers group membership questions.
type GroupStore interface {
	// IsMember reports whether userID currently belongs to groupID.
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// ChatStore persists unread counters and read flags.
//
// Private conversations keep one counter per ordered (viewer, peer) pair.
// Group conversations keep one read flag per (message, member) tuple; the
// unread count is derived by counting flags. A flag transitions
// unread -> read only, never back.
type ChatStore interface {
	// PrivateCount reads the unread counter for (viewer, peer).
	// A missing counter reads as 0.
	PrivateCount(ctx context.Context, viewer, peer string) (int, error)

	// SetPrivateCount writes the unread counter for (viewer, peer).
	// Negative counts are rejected.
	SetPrivateCount(ctx context.Context, viewer, peer string, count int) error

	// MarkMessagesRead marks private message records as read. Marking an
	// already-read message is a no-op.
	MarkMessagesRead(ctx context.Context, messageIDs []string) error

	// FlagUnread records an unread flag for (messageID, memberID) in a
	// group. If the flag already exists - read or unread - nothing changes,
	// preserving the unread -> read only transition.
	FlagUnread(ctx context.Context, groupID, messageID, memberID string) error

	// ClearFlags flips the read flags for the given messages and member to
	// read. Already-read flags are left alone.
	ClearFlags(ctx context.Context, messageIDs []string, memberID string) error

	// CountUnreadFlags counts unread flags for (memberID, groupID).
	CountUnreadFlags(ctx context.Context, memberID, groupID string) (int, error)
}
