// Package websocket provides the gorilla/websocket transport for the chat room.
//
// The websocket package implements:
//   - Handler, which upgrades GET /ws?name=<display name> and attaches the
//     connection to a room
//   - The paired read and write pumps shared with the fiber transport
//   - EchoHandler, a diagnostic socket that echoes frames back
//
// Architecture:
//
// Each connection runs two goroutines under an errgroup. The read pump hands
// every inbound frame to room.HandleFrame. The write pump drains the session
// outbox and writes each message as one JSON text frame, sending pings in
// between. Whichever pump ends first cancels the group, the connection is
// closed to wake the other one, and room.Disconnect runs exactly once.
//
// Message Protocol:
//
//   - Incoming: plain text, or {"message": "hello"}; "/nick <name>" and "/help"
//     are commands
//   - Outgoing: {"id", "type", "username", "message", "timestamp"}
//
// Slow Clients:
//
// A client that stops reading fills its outbox. The next broadcast treats it
// as a dead peer and prunes it, which closes the outbox; the write pump then
// sends a close frame and the connection ends.
//
// Usage:
//
//	handler := websocket.NewHandler(chatRoom, websocket.DefaultOptions(), logger)
//	router.Handle("/ws", handler)
//	router.Handle("/ws/echo", websocket.EchoHandler(logger))
package websocket
