package fiberws

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/logging"
	ws "github.com/wricardo/mcp-training/chatroom/transport/websocket"
)

const nameLocal = "chat_name"

// NewApp builds a fiber app serving handler's room. Connections are bound to
// ctx and end when it is cancelled.
func NewApp(ctx context.Context, handler *ws.Handler, logger *zap.Logger) *fiber.App {
	logger = logging.OrNop(logger)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "transport": "fiber"})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		name := c.Query("name")
		if strings.TrimSpace(name) != "" {
			if _, err := message.ValidateName(name); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		c.Locals(nameLocal, name)
		return c.Next()
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		name, _ := conn.Locals(nameLocal).(string)

		s, err := handler.Room().Connect(ctx, name)
		if err != nil {
			logger.Warn("failed to join room", zap.Error(err))
			conn.Close()
			return
		}

		handler.Serve(ctx, conn, s)
	}))

	return app
}
