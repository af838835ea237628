package conversation

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in the conversation. Only the content of the most
// recent, still-streaming assistant message ever changes.
type Message struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a point-in-time copy of the conversation state.
type State struct {
	Messages         []Message `json:"messages"`
	AwaitingResponse bool      `json:"awaitingResponse"`
	ActiveAgent      string    `json:"activeAgent"`
}

// Last returns the most recent message, if any.
func (s State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// newMessageID returns time-ordered UUIDv7 ids, falling back to a random v4 if
// the v7 generator fails.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
