package history

import (
	"context"
	"sync"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
)

// DefaultSize is the number of messages a store keeps when no size is given.
const DefaultSize = 200

// Store records broadcast messages and returns the latest ones.
type Store interface {
	Append(ctx context.Context, msg message.ChatMessage) error
	// Recent returns up to limit messages, oldest first. A limit <= 0 or above
	// Size returns everything retained.
	Recent(ctx context.Context, limit int) ([]message.ChatMessage, error)
	Size() int
}

// MemoryStore is a ring buffer of the last Size messages.
type MemoryStore struct {
	mu    sync.RWMutex
	buf   []message.ChatMessage
	next  int
	count int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a ring buffer holding size messages.
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = DefaultSize
	}
	return &MemoryStore{buf: make([]message.ChatMessage, size)}
}

func (s *MemoryStore) Append(_ context.Context, msg message.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf[s.next] = msg
	s.next = (s.next + 1) % len(s.buf)
	if s.count < len(s.buf) {
		s.count++
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]message.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > s.count {
		limit = s.count
	}

	result := make([]message.ChatMessage, 0, limit)
	start := (s.next - limit + len(s.buf)) % len(s.buf)
	for i := 0; i < limit; i++ {
		result = append(result, s.buf[(start+i)%len(s.buf)])
	}
	return result, nil
}

func (s *MemoryStore) Size() int {
	return len(s.buf)
}
