package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
)

// DefaultOutboxCapacity is the number of messages an outbox buffers before its
// connection is treated as dead.
const DefaultOutboxCapacity = 100

var (
	// ErrDeadPeer is wrapped by every delivery failure.
	ErrDeadPeer     = errors.New("dead peer")
	ErrOutboxClosed = fmt.Errorf("%w: outbox closed", ErrDeadPeer)
	ErrOutboxFull   = fmt.Errorf("%w: outbox full", ErrDeadPeer)
)

// Outbound accepts messages destined for one connection. Implementations must
// be comparable (pointer types) and Deliver must never block.
type Outbound interface {
	Deliver(msg message.ChatMessage) error
	Close()
}

// Outbox is a bounded FIFO feeding one connection's write loop.
type Outbox struct {
	mu     sync.Mutex
	ch     chan message.ChatMessage
	done   chan struct{}
	closed bool
}

// NewOutbox creates an outbox holding up to capacity undelivered messages.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{
		ch:   make(chan message.ChatMessage, capacity),
		done: make(chan struct{}),
	}
}

// Deliver queues msg without blocking.
func (o *Outbox) Deliver(msg message.ChatMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutboxClosed
	}

	select {
	case o.ch <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Messages is the receive side read by the write loop. It is closed by Close.
func (o *Outbox) Messages() <-chan message.ChatMessage {
	return o.ch
}

// Close stops further deliveries and ends the receive channel once drained.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
	close(o.ch)
}

// Done is closed by Close. Unlike Messages it does not wait for queued
// messages to drain.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	return len(o.ch)
}

// Cap returns the outbox capacity.
func (o *Outbox) Cap() int {
	return cap(o.ch)
}
