package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single entry of a conversation transcript. Messages are values: once appended to a
// transcript they are never modified, and every copy handed out by the session is independent.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents text typed by the person using the front-end.
	RoleUser Role = "user"
	// RoleAssistant represents an answer produced by the answering service. Its text is markdown.
	RoleAssistant Role = "assistant"
)

// NewMessage creates a message with a fresh identifier stamped with the current time.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}
