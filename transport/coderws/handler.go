package coderws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/chat/room"
	"github.com/wricardo/mcp-training/chatroom/logging"
	ws "github.com/wricardo/mcp-training/chatroom/transport/websocket"
)

// Handler upgrades requests with coder/websocket and attaches them to a room.
type Handler struct {
	room   *room.Room
	opts   ws.Options
	logger *zap.Logger
}

// NewHandler creates a handler for rm. Zero option fields use the defaults of
// package websocket.
func NewHandler(rm *room.Room, opts ws.Options, logger *zap.Logger) *Handler {
	d := ws.DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = d.WriteWait
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = d.PingPeriod
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = d.MaxMessageSize
	}
	return &Handler{room: rm, opts: opts, logger: logging.OrNop(logger)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) != "" {
		if _, err := message.ValidateName(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.opts.MaxMessageSize)

	s, err := h.room.Connect(r.Context(), name)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	err = h.serve(r.Context(), conn, s)
	h.room.Disconnect(r.Context(), s)

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
	default:
		if !errors.Is(err, ws.ErrSessionClosed) && !errors.Is(err, context.Canceled) {
			h.logger.Info("websocket error", zap.String("connection_id", s.ID), zap.Error(err))
		}
	}
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, s *room.Session) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			h.room.HandleFrame(ctx, s, data)
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(h.opts.PingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()

			case <-s.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return ws.ErrSessionClosed

			case msg, ok := <-s.Messages():
				if !ok || sessionDone(s) {
					conn.Close(websocket.StatusNormalClosure, "")
					return ws.ErrSessionClosed
				}
				writeCtx, cancel := context.WithTimeout(ctx, h.opts.WriteWait)
				err := wsjson.Write(writeCtx, conn, msg)
				cancel()
				if err != nil {
					return fmt.Errorf("write: %w", err)
				}

			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, h.opts.WriteWait)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					return fmt.Errorf("ping: %w", err)
				}
			}
		}
	})

	return g.Wait()
}

func sessionDone(s *room.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
