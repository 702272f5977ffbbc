// Package message defines the chat message model and the inbound frame format.
//
// The message package implements:
//   - ChatMessage, the immutable value fanned out to every connection
//   - Constructors for chat, system and error messages
//   - Decoding of raw client frames into chat text or commands
//   - Display name validation
//
// Message Format:
//
// Outbound messages are serialised by the transport layer as one JSON object per
// frame:
//
//	{"id": "...", "type": "chat", "username": "Alice", "message": "hi", "timestamp": "..."}
//
// Inbound frames are either a JSON envelope or raw text:
//
//	{"username": "Alice", "message": "hi"}
//	hi
//
// The envelope username is accepted for compatibility but never trusted; the
// sender is always the display name of the connection the frame arrived on.
//
// Commands:
//
// A body starting with a slash may carry a command:
//   - /nick <name> renames the connection
//   - /help replies with the command list to the sender only
//
// Any other text, including unknown slash-prefixed words, is ordinary chat.
package message
