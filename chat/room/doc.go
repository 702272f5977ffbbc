// Package room is the chat policy layer between transports and the connection
// registry.
//
// A transport calls three entry points per connection:
//   - Connect when the socket is accepted, which assigns an id and display
//     name, registers the outbox and announces the arrival
//   - HandleFrame for every inbound frame
//   - Disconnect once when either pump ends
//
// Inbound frames are plain text or a JSON object {"message": "..."}. Two
// commands are understood: /nick <name> renames the connection and /help
// replies with the command list. Malformed frames and rate-limited frames get
// an error message addressed to the sender only. The sender of a chat message
// is always the connection's current display name.
//
// Every broadcast is appended to the history store and published as an event.
// Both are best effort.
package room
