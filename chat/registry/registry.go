package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/logging"
	"github.com/wricardo/mcp-training/chatroom/metrics"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Registry is the contract transport adapters and the room program against.
type Registry interface {
	Join(id string, out Outbound, displayName string)
	Leave(id string)
	Broadcast(msg message.ChatMessage) int
	Rename(id, displayName string) bool
}

// Participant is a read-only view of one registered connection.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

type entry struct {
	out      Outbound
	name     string
	joinedAt time.Time
}

type target struct {
	id  string
	out Outbound
}

// ConnectionRegistry maps connection ids to their outbound channels.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ Registry = (*ConnectionRegistry)(nil)

// Option configures a ConnectionRegistry.
type Option func(*ConnectionRegistry)

// WithLogger sets the logger used for lifecycle and dead-peer events.
func WithLogger(logger *zap.Logger) Option {
	return func(r *ConnectionRegistry) {
		r.logger = logging.OrNop(logger)
	}
}

// WithMetrics records registry activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *ConnectionRegistry) {
		r.metrics = m
	}
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(opts ...Option) *ConnectionRegistry {
	r := &ConnectionRegistry{
		entries: make(map[string]*entry),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewConnectionID returns a fresh connection identity.
func NewConnectionID() string {
	return uuid.NewString()
}

// Join registers out under id. An existing entry for id is replaced and its
// outbound closed.
func (r *ConnectionRegistry) Join(id string, out Outbound, displayName string) {
	if out == nil {
		panic("registry: Join called with nil outbound")
	}

	r.mu.Lock()
	previous := r.entries[id]
	r.entries[id] = &entry{
		out:      out,
		name:     displayName,
		joinedAt: time.Now().UTC(),
	}
	count := len(r.entries)
	r.mu.Unlock()

	if previous != nil && previous.out != out {
		previous.out.Close()
		r.logger.Warn("connection id re-joined, replaced outbound", zap.String("connection_id", id))
	}

	r.metrics.Joined()
	r.metrics.SetActive(count)
	r.logger.Info("connection joined",
		zap.String("connection_id", id),
		zap.String("display_name", displayName),
		zap.Int("connections", count))
}

// Leave removes id and closes its outbound. Unknown ids are ignored.
func (r *ConnectionRegistry) Leave(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	count := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return
	}

	e.out.Close()
	r.metrics.Left()
	r.metrics.SetActive(count)
	r.logger.Info("connection left",
		zap.String("connection_id", id),
		zap.String("display_name", e.name),
		zap.Int("connections", count))
}

// Broadcast delivers msg to every connection registered when the call starts
// and returns the number of successful deliveries. Connections whose outbound
// rejects the message are pruned.
func (r *ConnectionRegistry) Broadcast(msg message.ChatMessage) int {
	targets := r.snapshot()

	delivered := 0
	var dead []target
	for _, t := range targets {
		if err := t.out.Deliver(msg); err != nil {
			r.logger.Debug("delivery failed",
				zap.String("connection_id", t.id),
				zap.Stringer("message_id", msg.ID),
				zap.Error(err))
			dead = append(dead, t)
			continue
		}
		delivered++
	}

	pruned := r.prune(dead)
	r.metrics.Broadcast(delivered, pruned)

	return delivered
}

// SendTo delivers msg to a single connection, pruning it if the delivery fails.
func (r *ConnectionRegistry) SendTo(id string, msg message.ChatMessage) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	var out Outbound
	if ok {
		out = e.out
	}
	r.mu.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}

	if err := out.Deliver(msg); err != nil {
		r.metrics.Pruned(r.prune([]target{{id: id, out: out}}))
		return err
	}
	return nil
}

// Rename changes the display name of a live connection. The outbound mapping is
// left untouched.
func (r *ConnectionRegistry) Rename(id, displayName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.name = displayName
	return true
}

// DisplayName returns the current name of id.
func (r *ConnectionRegistry) DisplayName(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.name, true
}

// Count returns the number of registered connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Participants lists registered connections in join order.
func (r *ConnectionRegistry) Participants() []Participant {
	r.mu.RLock()
	result := make([]Participant, 0, len(r.entries))
	for id, e := range r.entries {
		result = append(result, Participant{
			ID:          id,
			DisplayName: e.name,
			JoinedAt:    e.joinedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

func (r *ConnectionRegistry) snapshot() []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]target, 0, len(r.entries))
	for id, e := range r.entries {
		targets = append(targets, target{id: id, out: e.out})
	}
	return targets
}

// prune removes dead targets whose entry still points at the failed outbound,
// so a connection that re-joined under the same id meanwhile is kept.
func (r *ConnectionRegistry) prune(dead []target) int {
	if len(dead) == 0 {
		return 0
	}

	r.mu.Lock()
	removed := make([]target, 0, len(dead))
	for _, t := range dead {
		if e, ok := r.entries[t.id]; ok && e.out == t.out {
			delete(r.entries, t.id)
			removed = append(removed, t)
		}
	}
	count := len(r.entries)
	r.mu.Unlock()

	for _, t := range removed {
		t.out.Close()
		r.logger.Info("pruned dead peer", zap.String("connection_id", t.id))
	}
	if len(removed) > 0 {
		r.metrics.SetActive(count)
	}
	return len(removed)
}
