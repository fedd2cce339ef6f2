package domain

import (
	"time"
)

// Message roles. Two consecutive messages may carry the same role; no
// alternation is enforced.
const (
	RoleUser     = "user"
	RoleNarrator = "narrator"
)

// Message is one entry in a session transcript. Messages are append-only and
// replayed in creation order when used as conversation context.
type Message struct {
	ID        string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// IsNarrator reports whether the message was written by the story narrator.
func (m *Message) IsNarrator() bool {
	return m.Role == RoleNarrator
}
