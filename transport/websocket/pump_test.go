package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	fasthttpws "github.com/fasthttp/websocket"
	"github.com/gorilla/websocket"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/chat/registry"
	"github.com/wricardo/mcp-training/chatroom/chat/room"
)

// recordingConn captures what the write pump sends.
type recordingConn struct {
	mu     sync.Mutex
	json   []message.ChatMessage
	frames []int
}

func (c *recordingConn) SetReadLimit(int64)                {}
func (c *recordingConn) SetReadDeadline(time.Time) error   { return nil }
func (c *recordingConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *recordingConn) SetPongHandler(func(string) error) {}
func (c *recordingConn) Close() error                      { return nil }

func (c *recordingConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("not readable")
}

func (c *recordingConn) WriteMessage(messageType int, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, messageType)
	return nil
}

func (c *recordingConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.json = append(c.json, v.(message.ChatMessage))
	return nil
}

func (c *recordingConn) written() ([]message.ChatMessage, []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.ChatMessage(nil), c.json...), append([]int(nil), c.frames...)
}

func newPumpRoom() (*room.Room, *registry.ConnectionRegistry) {
	logger := newLogger()
	reg := registry.NewConnectionRegistry(registry.WithLogger(logger))
	return room.New(reg, room.WithLogger(logger)), reg
}

func TestWritePumpDropsBacklogOnceClosed(t *testing.T) {
	rm, reg := newPumpRoom()
	s, err := rm.Connect(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	reg.Leave(s.ID)

	conn := &recordingConn{}
	err = writePump(context.Background(), conn, s, DefaultOptions())
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Expected ErrSessionClosed, got %v", err)
	}

	msgs, frames := conn.written()
	if len(msgs) != 0 {
		t.Errorf("Expected queued messages to be dropped, got %+v", msgs)
	}
	if len(frames) != 1 || frames[0] != websocket.CloseMessage {
		t.Errorf("Expected a single close frame, got %v", frames)
	}
}

func TestWritePumpDeliversUntilClosed(t *testing.T) {
	rm, reg := newPumpRoom()
	s, err := rm.Connect(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	conn := &recordingConn{}
	done := make(chan error, 1)
	go func() {
		done <- writePump(context.Background(), conn, s, DefaultOptions())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if msgs, _ := conn.written(); len(msgs) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected welcome and join notice to be written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	reg.Leave(s.ID)

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionClosed) {
			t.Errorf("Expected ErrSessionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write pump did not stop after leave")
	}

	msgs, _ := conn.written()
	if msgs[1].Body != "Alice joined the chat" {
		t.Errorf("Unexpected join notice: %+v", msgs[1])
	}
}

func TestIsExpectedEnd(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: true},
		{name: "session closed", err: ErrSessionClosed, want: true},
		{name: "cancelled", err: fmt.Errorf("read: %w", context.Canceled), want: true},
		{name: "gorilla normal", err: fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseNormalClosure}), want: true},
		{name: "gorilla going away", err: fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseGoingAway}), want: true},
		{name: "gorilla abnormal", err: fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}), want: false},
		{name: "fasthttp normal", err: fmt.Errorf("read: %w", &fasthttpws.CloseError{Code: fasthttpws.CloseNormalClosure}), want: true},
		{name: "fasthttp no status", err: fmt.Errorf("read: %w", &fasthttpws.CloseError{Code: fasthttpws.CloseNoStatusReceived}), want: true},
		{name: "fasthttp abnormal", err: fmt.Errorf("read: %w", &fasthttpws.CloseError{Code: fasthttpws.CloseAbnormalClosure}), want: false},
		{name: "other", err: errors.New("broken pipe"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isExpectedEnd(tt.err); got != tt.want {
				t.Errorf("isExpectedEnd(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
