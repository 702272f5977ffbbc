package room

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/chat/registry"
)

// Session is one connected client as seen by the room.
type Session struct {
	ID          string
	ConnectedAt time.Time

	outbox  *registry.Outbox
	limiter *rate.Limiter

	mu   sync.RWMutex
	name string

	leaveOnce sync.Once
}

func newSession(id, name string, capacity int, limit rate.Limit, burst int) *Session {
	s := &Session{
		ID:          id,
		ConnectedAt: time.Now().UTC(),
		outbox:      registry.NewOutbox(capacity),
		name:        name,
	}
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(limit, burst)
	}
	return s
}

// Name returns the current display name.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) setName(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.name
	s.name = name
	return old
}

// Messages is drained by the transport write loop. The channel is closed when
// the session leaves the registry or is pruned as a dead peer.
func (s *Session) Messages() <-chan message.ChatMessage {
	return s.outbox.Messages()
}

// Done is closed as soon as the session leaves the registry or is pruned.
// Messages still queued at that point are not sent.
func (s *Session) Done() <-chan struct{} {
	return s.outbox.Done()
}

// live reports whether the registry still delivers to s.
func (s *Session) live() bool {
	return !s.outbox.Closed()
}

func (s *Session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}
