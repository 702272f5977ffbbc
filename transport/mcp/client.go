package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/chatroom/api"
	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/chat/registry"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Chatroom",
		Version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Chatroom - MCP Interface

This is a thin client that proxies all requests to the chatroom REST API.

AVAILABLE TOOLS:
- chat_status: Who is online and what the server supports
- list_participants: Connections with their ids and join times
- announce: Send a System message to every connected user
- chat_history: Recent broadcast messages, oldest first
- chat_instructions: How users connect and which commands they can use`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "chat_status",
		Description: "Get the number of active users and their display names",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_participants",
		Description: "List connected participants in join order",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListParticipants)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "announce",
		Description: "Broadcast a System message to everyone in the chat",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Text of the announcement",
				},
			},
			Required: []string{"message"},
		},
	}, c.handleAnnounce)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "chat_history",
		Description: "Get recent broadcast messages",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of messages (default 50)",
				},
			},
		},
	}, c.handleHistory)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "chat_instructions",
		Description: "Explain how users join the chat and which commands exist",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// ServeHTTP answers single JSON-RPC messages posted to /mcp.
func (c *Client) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	response := c.mcpServer.HandleMessage(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	responseData, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Write(responseData)
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// Tool handlers

func (c *Client) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status api.StatusResponse
	if err := c.apiCall(ctx, "GET", "/api/status", nil, &status); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStatus(&status)), nil
}

func (c *Client) handleListParticipants(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var participants []registry.Participant
	if err := c.apiCall(ctx, "GET", "/api/participants", nil, &participants); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatParticipants(participants)), nil
}

func (c *Client) handleAnnounce(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, _ := arguments(request)["message"].(string)
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	var response struct {
		Delivered int `json:"delivered"`
	}
	body := map[string]string{"message": text}
	if err := c.apiCall(ctx, "POST", "/api/broadcast", body, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Announcement delivered to %d connection(s)", response.Delivered)), nil
}

func (c *Client) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/history"
	if limit, ok := arguments(request)["limit"].(float64); ok && limit > 0 {
		path += fmt.Sprintf("?limit=%d", int(limit))
	}

	var response struct {
		Count    int                   `json:"count"`
		Messages []message.ChatMessage `json:"messages"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatHistory(response.Messages)), nil
}

func (c *Client) handleInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `Chatroom - Instructions

CONNECTING:
Open a WebSocket to /ws?name=<display name>. The name is optional; without
it the server assigns User_XXXXXXXX. Names are 1-32 characters, may not
contain control characters, and "System" is reserved.

SENDING:
Send plain text, or a JSON object {"message": "hello"}. The sender shown to
others is always the connection's current display name.

COMMANDS:
/nick <name>  Change your display name
/help         Show the command list

RECEIVING:
Every message arrives as one JSON text frame:
{"id", "type", "username", "message", "timestamp"}
type is "chat" for user messages, "system" for notices and "error" for
replies about a rejected frame.

SLOW CLIENTS:
A client that stops reading is disconnected once its queue fills.`

	return mcp.NewToolResultText(instructions), nil
}

func formatStatus(status *api.StatusResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active users: %d\n", status.ActiveUsers)
	if len(status.Users) > 0 {
		fmt.Fprintf(&b, "Online: %s\n", strings.Join(status.Users, ", "))
	}
	fmt.Fprintf(&b, "WebSocket endpoint: %s\n", status.WebSocketEndpoint)
	if len(status.Features) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(status.Features, ", "))
	}
	return b.String()
}

func formatParticipants(participants []registry.Participant) string {
	if len(participants) == 0 {
		return "No one is connected."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Participants (%d):\n\n", len(participants))
	for _, p := range participants {
		fmt.Fprintf(&b, "- %s (id: %s, joined: %s)\n", p.DisplayName, p.ID, p.JoinedAt.Format("15:04:05"))
	}
	return b.String()
}

func formatHistory(messages []message.ChatMessage) string {
	if len(messages) == 0 {
		return "No messages yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent messages (%d):\n\n", len(messages))
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Sender, m.Body)
	}
	return b.String()
}
