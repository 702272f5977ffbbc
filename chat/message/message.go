package message

import (
	"time"

	"github.com/google/uuid"
)

// SystemSender is the display name used for notices generated by the server.
const SystemSender = "System"

// Kind classifies a message for clients that render notices differently from chat.
type Kind string

const (
	KindChat   Kind = "chat"
	KindSystem Kind = "system"
	KindError  Kind = "error"
)

// ChatMessage represents one broadcastable event. It is passed by value so a
// constructed message cannot be changed underneath a receiver.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"type"`
	Sender    string    `json:"username"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a chat message from sender.
func New(sender, body string) ChatMessage {
	return newMessage(KindChat, sender, body)
}

// System creates a notice from the System sender.
func System(body string) ChatMessage {
	return newMessage(KindSystem, SystemSender, body)
}

// Error creates an error notice addressed to a single connection.
func Error(body string) ChatMessage {
	return newMessage(KindError, SystemSender, body)
}

func newMessage(kind Kind, sender, body string) ChatMessage {
	return ChatMessage{
		ID:        uuid.New(),
		Kind:      kind,
		Sender:    sender,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
}

// IsSystem reports whether the message was generated by the server.
func (m ChatMessage) IsSystem() bool {
	return m.Kind == KindSystem || m.Kind == KindError
}
