// Package fiberws exposes a chat room over a gofiber application.
//
// It serves GET /ws?name=<display name> and GET /api/health on a separate
// fasthttp listener, typically configured with server.fiber_addr. Connections
// share the pumps of package websocket, so the wire protocol is identical to
// the net/http transports.
package fiberws
