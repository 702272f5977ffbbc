// Package coderws is the coder/websocket transport for the chat room.
//
// It serves the same protocol as package websocket but uses coder/websocket's
// context-aware API: reads and writes take a context, cancelling the context
// closes the connection, and messages are written with wsjson. Select it with
// chat.transport: coder.
package coderws
