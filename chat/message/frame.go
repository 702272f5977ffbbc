package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrEmptyFrame     = errors.New("empty frame")
	ErrUsage          = errors.New("invalid command usage")
	ErrInvalidName    = errors.New("invalid display name")
)

// MaxNameLength is the longest display name accepted, in runes.
const MaxNameLength = 32

// HelpText is the reply to the /help command.
const HelpText = "Available commands: /nick <name> - Change your nickname, /help - Show this help"

// Command identifies what an inbound frame asks the room to do.
type Command int

const (
	// CommandChat broadcasts the frame body as a chat message.
	CommandChat Command = iota
	// CommandNick renames the sending connection.
	CommandNick
	// CommandHelp replies with HelpText to the sender.
	CommandHelp
)

func (c Command) String() string {
	switch c {
	case CommandNick:
		return "nick"
	case CommandHelp:
		return "help"
	default:
		return "chat"
	}
}

// Envelope is the JSON shape clients may wrap their text in.
type Envelope struct {
	Username string  `json:"username,omitempty"`
	Message  *string `json:"message"`
}

// Frame is a decoded client frame.
type Frame struct {
	Command Command
	// Body is the chat text for CommandChat and the new name for CommandNick.
	Body string
	// Username is the envelope username, if the client sent one.
	Username string
}

// DecodeFrame turns raw client bytes into a Frame. Errors wrap ErrEmptyFrame,
// ErrMalformedFrame or ErrUsage.
func DecodeFrame(data []byte) (Frame, error) {
	if !utf8.Valid(data) {
		return Frame{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedFrame)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	var frame Frame
	body := string(trimmed)

	if trimmed[0] == '{' {
		var env Envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Frame{}, fmt.Errorf("%w: invalid JSON format", ErrMalformedFrame)
		}
		if env.Message == nil {
			return Frame{}, fmt.Errorf("%w: missing \"message\" field", ErrMalformedFrame)
		}
		frame.Username = env.Username
		body = strings.TrimSpace(*env.Message)
		if body == "" {
			return Frame{}, ErrEmptyFrame
		}
	}

	switch {
	case body == "/help":
		frame.Command = CommandHelp
	case body == "/nick":
		return Frame{}, fmt.Errorf("%w: /nick <name>", ErrUsage)
	case strings.HasPrefix(body, "/nick "):
		frame.Command = CommandNick
		body = strings.TrimSpace(strings.TrimPrefix(body, "/nick "))
		if body == "" {
			return Frame{}, fmt.Errorf("%w: /nick <name>", ErrUsage)
		}
	default:
		frame.Command = CommandChat
	}

	frame.Body = body
	return frame, nil
}

// ValidateName trims name and checks it can be used as a display name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name is longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: name contains control characters", ErrInvalidName)
		}
	}
	if strings.EqualFold(name, SystemSender) {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidName, SystemSender)
	}
	return name, nil
}

// DefaultName derives the anonymous display name for a connection id.
func DefaultName(connectionID string) string {
	short := strings.ReplaceAll(connectionID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return "User_" + strings.ToUpper(short)
}
