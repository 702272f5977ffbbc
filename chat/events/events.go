package events

import (
	"context"
	"time"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
)

// Type names an event.
type Type string

const (
	UserJoined  Type = "user_joined"
	UserLeft    Type = "user_left"
	UserRenamed Type = "user_renamed"
	Message     Type = "message"
)

// Event describes something that happened in the room.
type Event struct {
	Type         Type                 `json:"type"`
	ConnectionID string               `json:"connection_id,omitempty"`
	DisplayName  string               `json:"display_name,omitempty"`
	PreviousName string               `json:"previous_name,omitempty"`
	Message      *message.ChatMessage `json:"message,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Joined builds a UserJoined event.
func Joined(connID, name string) Event {
	return Event{Type: UserJoined, ConnectionID: connID, DisplayName: name, Timestamp: time.Now().UTC()}
}

// Left builds a UserLeft event.
func Left(connID, name string) Event {
	return Event{Type: UserLeft, ConnectionID: connID, DisplayName: name, Timestamp: time.Now().UTC()}
}

// Renamed builds a UserRenamed event.
func Renamed(connID, oldName, newName string) Event {
	return Event{
		Type:         UserRenamed,
		ConnectionID: connID,
		DisplayName:  newName,
		PreviousName: oldName,
		Timestamp:    time.Now().UTC(),
	}
}

// Broadcasted builds a Message event. connID is empty for system messages.
func Broadcasted(connID string, msg message.ChatMessage) Event {
	return Event{
		Type:         Message,
		ConnectionID: connID,
		DisplayName:  msg.Sender,
		Message:      &msg,
		Timestamp:    msg.Timestamp,
	}
}
