package chat

import "time"

// Role is the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat bubble. An assistant message stays Partial while its
// turn is open and is immutable once sealed.
type Message struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp_ms"`
	Partial     bool   `json:"partial"`
}

// Time returns the message timestamp
func (m Message) Time() time.Time {
	return time.UnixMilli(m.TimestampMs)
}

// UpdateKind describes a change to the conversation
type UpdateKind int

const (
	// MessageAdded is a new message at the end of the conversation
	MessageAdded UpdateKind = iota
	// MessageUpdated is more text on the open message
	MessageUpdated
	// MessageSealed marks the end of a message's turn
	MessageSealed
	// ConversationReset means every message was dropped
	ConversationReset
)

// Update is delivered to change listeners
type Update struct {
	Kind    UpdateKind
	Message Message
}
