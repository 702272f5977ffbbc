package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wricardo/mcp-training/chatroom/chat/events"
	"github.com/wricardo/mcp-training/chatroom/chat/history"
	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/chat/registry"
	"github.com/wricardo/mcp-training/chatroom/logging"
	"github.com/wricardo/mcp-training/chatroom/metrics"
)

var ErrEmptyAnnouncement = errors.New("announcement is empty")

const (
	invalidJSONReply = "Invalid JSON format"
	rateLimitReply   = "Rate limit exceeded, slow down"
	nickUsageReply   = "Usage: /nick <name>"
)

// Room applies chat policy on top of a registry.
type Room struct {
	registry  *registry.ConnectionRegistry
	history   history.Store
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	outboxCapacity int
	rateLimit      rate.Limit
	rateBurst      int
	presence       bool
	welcome        bool

	startedAt time.Time
}

// Option configures a Room.
type Option func(*Room)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Room) { r.logger = logging.OrNop(logger) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Room) { r.metrics = m }
}

// WithHistory replaces the default in-memory history store.
func WithHistory(store history.Store) Option {
	return func(r *Room) {
		if store != nil {
			r.history = store
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(r *Room) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithOutboxCapacity sets how many messages each connection may have queued
// before it is treated as dead.
func WithOutboxCapacity(n int) Option {
	return func(r *Room) { r.outboxCapacity = n }
}

// WithRateLimit limits inbound frames per connection. A zero limit disables it.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(r *Room) {
		r.rateLimit = limit
		r.rateBurst = burst
	}
}

// WithPresenceNotices toggles the "joined" and "left" broadcasts.
func WithPresenceNotices(enabled bool) Option {
	return func(r *Room) { r.presence = enabled }
}

// WithWelcome toggles the welcome message sent to a new connection.
func WithWelcome(enabled bool) Option {
	return func(r *Room) { r.welcome = enabled }
}

// New creates a room over reg.
func New(reg *registry.ConnectionRegistry, opts ...Option) *Room {
	r := &Room{
		registry:       reg,
		history:        history.NewMemoryStore(history.DefaultSize),
		publisher:      events.NopPublisher{},
		logger:         zap.NewNop(),
		outboxCapacity: registry.DefaultOutboxCapacity,
		presence:       true,
		welcome:        true,
		startedAt:      time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers a new connection. An empty name gets a generated one.
func (r *Room) Connect(ctx context.Context, requestedName string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := registry.NewConnectionID()
	name := message.DefaultName(id)
	if strings.TrimSpace(requestedName) != "" {
		valid, err := message.ValidateName(requestedName)
		if err != nil {
			return nil, err
		}
		name = valid
	}

	s := newSession(id, name, r.outboxCapacity, r.rateLimit, r.rateBurst)
	r.registry.Join(s.ID, s.outbox, name)

	if r.welcome {
		r.reply(s, message.System(fmt.Sprintf("Welcome! Your ID is %s", s.ID)))
	}
	if r.presence {
		r.broadcast(ctx, "", message.System(fmt.Sprintf("%s joined the chat", name)))
	}
	r.publish(ctx, events.Joined(s.ID, name))

	return s, nil
}

// HandleFrame processes one inbound frame from s. Problems with the frame are
// reported to the sender and never end the connection.
func (r *Room) HandleFrame(ctx context.Context, s *Session, data []byte) {
	if !s.live() {
		r.metrics.Frame("evicted")
		r.logger.Debug("frame from evicted session dropped", zap.String("connection_id", s.ID))
		return
	}

	if !s.allow() {
		r.metrics.Frame("rate_limited")
		r.reply(s, message.Error(rateLimitReply))
		return
	}

	frame, err := message.DecodeFrame(data)
	switch {
	case errors.Is(err, message.ErrEmptyFrame):
		r.metrics.Frame("empty")
		return
	case errors.Is(err, message.ErrUsage):
		r.metrics.Frame("usage")
		r.reply(s, message.Error(nickUsageReply))
		return
	case err != nil:
		r.metrics.Frame("malformed")
		r.logger.Debug("malformed frame", zap.String("connection_id", s.ID), zap.Error(err))
		r.reply(s, message.Error(invalidJSONReply))
		return
	}

	r.metrics.Frame(frame.Command.String())

	switch frame.Command {
	case message.CommandHelp:
		r.reply(s, message.System(message.HelpText))
	case message.CommandNick:
		r.rename(ctx, s, frame.Body)
	default:
		r.broadcast(ctx, s.ID, message.New(s.Name(), frame.Body))
	}
}

// Disconnect removes s from the room. Only the first call has any effect.
func (r *Room) Disconnect(ctx context.Context, s *Session) {
	s.leaveOnce.Do(func() {
		// The connection context is usually cancelled by now.
		ctx = context.WithoutCancel(ctx)

		name := s.Name()
		r.registry.Leave(s.ID)

		if r.presence {
			r.broadcast(ctx, "", message.System(fmt.Sprintf("%s left the chat", name)))
		}
		r.publish(ctx, events.Left(s.ID, name))
	})
}

// Announce broadcasts an operator notice and returns the number of deliveries.
func (r *Room) Announce(ctx context.Context, body string) (int, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return 0, ErrEmptyAnnouncement
	}
	return r.broadcast(ctx, "", message.System(body)), nil
}

// Status summarises the room.
type Status struct {
	ActiveUsers int       `json:"active_users"`
	Users       []string  `json:"users"`
	StartedAt   time.Time `json:"started_at"`
}

func (r *Room) Status() Status {
	participants := r.registry.Participants()
	users := make([]string, 0, len(participants))
	for _, p := range participants {
		users = append(users, p.DisplayName)
	}
	return Status{
		ActiveUsers: len(participants),
		Users:       users,
		StartedAt:   r.startedAt,
	}
}

func (r *Room) Participants() []registry.Participant {
	return r.registry.Participants()
}

// History returns up to limit recent broadcasts, oldest first.
func (r *Room) History(ctx context.Context, limit int) ([]message.ChatMessage, error) {
	return r.history.Recent(ctx, limit)
}

// HistorySize is the most messages History can return.
func (r *Room) HistorySize() int {
	return r.history.Size()
}

func (r *Room) rename(ctx context.Context, s *Session, requested string) {
	name, err := message.ValidateName(requested)
	if err != nil {
		r.reply(s, message.Error(strings.TrimPrefix(err.Error(), message.ErrInvalidName.Error()+": ")))
		return
	}

	old := s.Name()
	if name == old {
		return
	}
	if !r.registry.Rename(s.ID, name) {
		return
	}
	s.setName(name)

	r.broadcast(ctx, "", message.System(fmt.Sprintf("%s is now known as %s", old, name)))
	r.publish(ctx, events.Renamed(s.ID, old, name))
}

// broadcast fans msg out and records it. connID is the originating connection,
// empty for notices.
func (r *Room) broadcast(ctx context.Context, connID string, msg message.ChatMessage) int {
	delivered := r.registry.Broadcast(msg)

	if err := r.history.Append(ctx, msg); err != nil {
		r.logger.Warn("failed to record history", zap.Stringer("message_id", msg.ID), zap.Error(err))
	}
	r.publish(ctx, events.Broadcasted(connID, msg))

	return delivered
}

func (r *Room) reply(s *Session, msg message.ChatMessage) {
	if err := r.registry.SendTo(s.ID, msg); err != nil {
		r.logger.Debug("reply not delivered", zap.String("connection_id", s.ID), zap.Error(err))
	}
}

func (r *Room) publish(ctx context.Context, event events.Event) {
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
