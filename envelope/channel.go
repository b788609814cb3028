package envelope

import (
	"fmt"
	"strings"
)

// Channel naming.
//
// Channels are dotted subjects addressed to a single principal or group:
//
//	wall.private.<userID>     private messages addressed to the user
//	wall.group.<groupID>      messages for a group conversation
//	wall.read.<userID>        read-status updates for the user
//	wall.notify.<userID>      generic notifications for the user
const channelRoot = "wall"

// PrivateChannel returns the channel carrying private messages addressed
// to the given user.
func PrivateChannel(userID string) string {
	return fmt.Sprintf("%s.private.%s", channelRoot, sanitize(userID))
}

// GroupChannel returns the channel carrying messages for a group.
func GroupChannel(groupID string) string {
	return fmt.Sprintf("%s.group.%s", channelRoot, sanitize(groupID))
}

// ReadStatusChannel returns the channel carrying read-status updates for
// the given user.
func ReadStatusChannel(userID string) string {
	return fmt.Sprintf("%s.read.%s", channelRoot, sanitize(userID))
}

// NotifyChannel returns the generic notification channel for the given user.
func NotifyChannel(userID string) string {
	return fmt.Sprintf("%s.notify.%s", channelRoot, sanitize(userID))
}

// sanitize replaces characters with subject-level meaning so that an id
// can never widen a subscription.
func sanitize(id string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(id)
}
