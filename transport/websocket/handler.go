package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"

	fasthttpws "github.com/fasthttp/websocket"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/chat/room"
	"github.com/wricardo/mcp-training/chatroom/logging"
)

// Handler upgrades requests to chat connections on a room.
type Handler struct {
	room     *room.Room
	upgrader websocket.Upgrader
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a gorilla/websocket handler for rm.
func NewHandler(rm *room.Room, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		room: rm,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers on any origin may join.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts:   opts.withDefaults(),
		logger: logging.OrNop(logger),
	}
}

// ServeHTTP handles GET /ws?name=<display name>. It blocks until the
// connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) != "" {
		if _, err := message.ValidateName(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s, err := h.room.Connect(r.Context(), name)
	if err != nil {
		h.logger.Warn("failed to join room", zap.Error(err))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	h.Serve(r.Context(), conn, s)
}

// Serve runs an already upgraded connection for s until it ends.
func (h *Handler) Serve(ctx context.Context, conn Conn, s *room.Session) error {
	err := serve(ctx, conn, h.room, s, h.opts, h.logger)
	if !isExpectedEnd(err) {
		h.logger.Info("websocket error", zap.String("connection_id", s.ID), zap.Error(err))
	}
	return err
}

// Room returns the room connections are attached to.
func (h *Handler) Room() *room.Room {
	return h.room
}

func isExpectedEnd(err error) bool {
	if err == nil || errors.Is(err, ErrSessionClosed) || errors.Is(err, context.Canceled) {
		return true
	}

	// Connections served by fiber fail with the fasthttp fork's error type.
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return isExpectedCloseCode(closeErr.Code)
	}
	var fastCloseErr *fasthttpws.CloseError
	if errors.As(err, &fastCloseErr) {
		return isExpectedCloseCode(fastCloseErr.Code)
	}
	return false
}

func isExpectedCloseCode(code int) bool {
	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}

// EchoHandler replies to every text frame with "Echo: <text>" and returns
// binary frames unchanged. It does not touch the room.
func EchoHandler(logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			switch typ {
			case websocket.TextMessage:
				data = append([]byte("Echo: "), data...)
			case websocket.BinaryMessage:
			default:
				continue
			}

			if err := conn.WriteMessage(typ, data); err != nil {
				return
			}
		}
	})
}
