// Package mcp provides a Model Context Protocol server for chatroom operators.
//
// The mcp package implements:
//   - MCP tools that proxy to the REST API
//   - An HTTP handler answering JSON-RPC messages at /mcp
//   - The server used by the stdio mode of the chatroom command
//
// MCP Tools:
//
// The package exposes the following tools for AI agents:
//   - chat_status: Active user count and names
//   - list_participants: Connections with ids and join times
//   - announce: Broadcast a System message
//   - chat_history: Recent broadcasts, oldest first
//   - chat_instructions: Connection protocol and commands
//
// Transport Modes:
//
// The server supports two transport modes:
//   - Stdio: Direct stdio communication for local MCP clients
//   - HTTP: POST /mcp on the chatroom server
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//
//	// Stdio mode
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	router.Handle("/mcp", client)
package mcp
