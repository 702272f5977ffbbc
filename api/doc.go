// Package api provides HTTP REST API handlers for the chatroom server.
//
// The api package implements:
//   - Room status and participant listing
//   - Operator announcements
//   - Recent message history
//   - Health checks
//   - Mounting of the WebSocket, echo, metrics and MCP handlers
//
// Endpoints:
//
// Chat:
//   - GET /ws?name=<display name> - Join the chat over WebSocket
//   - GET /ws/echo - Echo socket for connectivity checks
//
// Room:
//   - GET /api/status - Active users, endpoint and feature list
//   - GET /api/participants - Connections in join order
//   - POST /api/broadcast - Send a System message to everyone
//   - GET /api/history?limit=N - Recent broadcasts, oldest first
//
// Operations:
//   - GET /api/health - Liveness probe
//   - GET /metrics - Prometheus metrics
//   - POST /mcp - MCP JSON-RPC messages
//
// Request/Response Format:
//
// All endpoints accept and return JSON. An announcement is posted as:
//
//	{"message": "Server restarts in 5 minutes"}
//
// and answered with the number of connections it reached:
//
//	{"delivered": 12}
//
// Usage:
//
//	server := api.NewServer(chatRoom, api.Handlers{
//		WebSocket: websocket.NewHandler(chatRoom, opts, logger),
//		Echo:      websocket.EchoHandler(logger),
//		Metrics:   metrics.Handler(promRegistry),
//		MCP:       mcp.NewClient("http://localhost:8080"),
//	}, logger)
//	http.ListenAndServe(":8080", server)
//
// Error Handling:
//
// Errors are returned as JSON with appropriate HTTP status codes:
//
//	{
//	  "error": "error message"
//	}
package api
