package envelope

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the category of an envelope. The set is closed:
// unknown kinds fail validation and unmarshalling.
type Kind int

// Envelope kinds
const (
	KindNotification Kind = iota
	KindChatMessage
	KindFriendRequest
	KindSystemEvent
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindNotification:
		return "notification"
	case KindChatMessage:
		return "chat_message"
	case KindFriendRequest:
		return "friend_request"
	case KindSystemEvent:
		return "system_event"
	default:
		return "unknown"
	}
}

// IsValid reports whether the kind is a member of the closed set
func (k Kind) IsValid() bool {
	return k >= KindNotification && k <= KindSystemEvent
}

// MarshalJSON implements json.Marshaler
func (k Kind) MarshalJSON() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("invalid envelope kind %d", int(k))
	}
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "notification":
		*k = KindNotification
	case "chat_message":
		*k = KindChatMessage
	case "friend_request":
		*k = KindFriendRequest
	case "system_event":
		*k = KindSystemEvent
	default:
		return fmt.Errorf("unknown envelope kind %q", s)
	}
	return nil
}

// Priority expresses relative delivery importance. It is advisory only:
// the bus does not reorder messages by priority.
type Priority int

// Priorities, ordered Low < Medium < High < Urgent
const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// String returns the wire name of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// IsValid reports whether the priority is in range
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// MarshalJSON implements json.Marshaler
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "low":
		*p = PriorityLow
	case "medium":
		*p = PriorityMedium
	case "high":
		*p = PriorityHigh
	case "urgent":
		*p = PriorityUrgent
	default:
		return fmt.Errorf("unknown priority %q", s)
	}
	return nil
}
