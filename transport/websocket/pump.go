package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/chatroom/chat/room"
)

// ErrSessionClosed ends the write pump when the session outbox is closed by a
// Leave or by dead-peer pruning.
var ErrSessionClosed = errors.New("session closed")

// Options tunes the keepalive and size limits of a connection.
type Options struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}

// Conn is the part of a websocket connection the pumps use. It is satisfied by
// gorilla's *websocket.Conn and by the fasthttp fork wrapped by gofiber.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v interface{}) error
	Close() error
}

// serve runs the read and write pumps for s until either ends, then removes
// the session from the room. The returned error is the one that ended the
// first pump.
func serve(ctx context.Context, conn Conn, rm *room.Room, s *room.Session, opts Options, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return readPump(gctx, conn, rm, s, opts)
	})
	g.Go(func() error {
		return writePump(gctx, conn, s, opts)
	})
	g.Go(func() error {
		// Unblocks ReadMessage once the other pump has finished.
		<-gctx.Done()
		conn.Close()
		return gctx.Err()
	})

	err := g.Wait()
	rm.Disconnect(ctx, s)

	logger.Debug("connection closed",
		zap.String("connection_id", s.ID),
		zap.String("display_name", s.Name()),
		zap.Error(err))
	return err
}

// readPump feeds frames from the connection into the room.
func readPump(ctx context.Context, conn Conn, rm *room.Room, s *room.Session, opts Options) error {
	conn.SetReadLimit(opts.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		rm.HandleFrame(ctx, s, data)
	}
}

// writePump writes queued messages as JSON text frames and keeps the
// connection alive with pings. It stops as soon as the session is closed.
func writePump(ctx context.Context, conn Conn, s *room.Session, opts Options) error {
	ticker := time.NewTicker(opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.Done():
			return closeSession(conn, opts)

		case msg, ok := <-s.Messages():
			if !ok || sessionDone(s) {
				return closeSession(conn, opts)
			}
			conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// sessionDone reports whether s has left the registry. Anything still queued
// is dropped rather than written to an evicted peer.
func sessionDone(s *room.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func closeSession(conn Conn, opts Options) error {
	conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return ErrSessionClosed
}
