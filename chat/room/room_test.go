package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/wricardo/mcp-training/chatroom/chat/events"
	"github.com/wricardo/mcp-training/chatroom/chat/history"
	"github.com/wricardo/mcp-training/chatroom/chat/message"
	"github.com/wricardo/mcp-training/chatroom/chat/registry"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]events.Type, len(p.events))
	for i, e := range p.events {
		result[i] = e.Type
	}
	return result
}

type failingStore struct {
	*history.MemoryStore
}

func (*failingStore) Append(context.Context, message.ChatMessage) error {
	return errors.New("store unavailable")
}

func newTestRoom(t *testing.T, opts ...Option) (*Room, *registry.ConnectionRegistry) {
	reg := registry.NewConnectionRegistry(registry.WithLogger(zaptest.NewLogger(t)))
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(reg, opts...), reg
}

func drain(s *Session) []message.ChatMessage {
	var msgs []message.ChatMessage
	for {
		select {
		case msg, ok := <-s.Messages():
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func connect(t *testing.T, r *Room, name string) *Session {
	t.Helper()
	s, err := r.Connect(context.Background(), name)
	if err != nil {
		t.Fatalf("Connect(%q) failed: %v", name, err)
	}
	return s
}

func TestConnect(t *testing.T) {
	r, reg := newTestRoom(t)

	s := connect(t, r, "  Alice  ")

	if s.Name() != "Alice" {
		t.Errorf("Expected trimmed name Alice, got %q", s.Name())
	}
	if reg.Count() != 1 {
		t.Errorf("Expected 1 registered connection, got %d", reg.Count())
	}

	msgs := drain(s)
	if len(msgs) != 2 {
		t.Fatalf("Expected welcome and join notice, got %+v", msgs)
	}
	if msgs[0].Body != "Welcome! Your ID is "+s.ID {
		t.Errorf("Unexpected welcome: %s", msgs[0].Body)
	}
	if msgs[1].Body != "Alice joined the chat" || msgs[1].Sender != message.SystemSender {
		t.Errorf("Unexpected join notice: %+v", msgs[1])
	}
}

func TestConnectDefaultName(t *testing.T) {
	r, _ := newTestRoom(t)

	s := connect(t, r, "")

	if want := message.DefaultName(s.ID); s.Name() != want {
		t.Errorf("Expected generated name %s, got %s", want, s.Name())
	}
	if !strings.HasPrefix(s.Name(), "User_") || len(s.Name()) != len("User_")+8 {
		t.Errorf("Unexpected generated name format: %s", s.Name())
	}
}

func TestConnectRejectsInvalidName(t *testing.T) {
	r, reg := newTestRoom(t)

	for _, name := range []string{"system", "bad\x07name", strings.Repeat("x", message.MaxNameLength+1)} {
		if _, err := r.Connect(context.Background(), name); !errors.Is(err, message.ErrInvalidName) {
			t.Errorf("Connect(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
	if reg.Count() != 0 {
		t.Errorf("Rejected connections should not be registered, got %d", reg.Count())
	}
}

func TestConnectCancelledContext(t *testing.T) {
	r, _ := newTestRoom(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Connect(ctx, "Alice"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestHandleFrame(t *testing.T) {
	tests := []struct {
		name          string
		frame         string
		wantKind      message.Kind
		wantBody      string
		senderOnly    bool
		expectNothing bool
	}{
		{name: "plain text", frame: "hello", wantKind: message.KindChat, wantBody: "hello"},
		{name: "json envelope", frame: `{"message":"hi there"}`, wantKind: message.KindChat, wantBody: "hi there"},
		{name: "spoofed username ignored", frame: `{"username":"Mallory","message":"hi"}`, wantKind: message.KindChat, wantBody: "hi"},
		{name: "help", frame: "/help", wantKind: message.KindSystem, wantBody: message.HelpText, senderOnly: true},
		{name: "malformed json", frame: `{"message":`, wantKind: message.KindError, wantBody: "Invalid JSON format", senderOnly: true},
		{name: "missing message field", frame: `{"text":"hi"}`, wantKind: message.KindError, wantBody: "Invalid JSON format", senderOnly: true},
		{name: "bare nick", frame: "/nick", wantKind: message.KindError, wantBody: "Usage: /nick <name>", senderOnly: true},
		{name: "empty frame", frame: "   ", expectNothing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRoom(t)
			alice := connect(t, r, "Alice")
			bob := connect(t, r, "Bob")
			drain(alice)
			drain(bob)

			r.HandleFrame(context.Background(), alice, []byte(tt.frame))

			fromAlice := drain(alice)
			fromBob := drain(bob)

			if tt.expectNothing {
				if len(fromAlice)+len(fromBob) != 0 {
					t.Errorf("Expected no messages, got %+v / %+v", fromAlice, fromBob)
				}
				return
			}

			if len(fromAlice) != 1 {
				t.Fatalf("Expected 1 message for sender, got %+v", fromAlice)
			}
			got := fromAlice[0]
			if got.Kind != tt.wantKind || got.Body != tt.wantBody {
				t.Errorf("Expected %s %q, got %s %q", tt.wantKind, tt.wantBody, got.Kind, got.Body)
			}
			if tt.wantKind == message.KindChat && got.Sender != "Alice" {
				t.Errorf("Expected sender Alice, got %s", got.Sender)
			}

			wantBob := 1
			if tt.senderOnly {
				wantBob = 0
			}
			if len(fromBob) != wantBob {
				t.Errorf("Expected %d messages for other member, got %+v", wantBob, fromBob)
			}
		})
	}
}

func TestHandleFrameNick(t *testing.T) {
	pub := &recordingPublisher{}
	r, reg := newTestRoom(t, WithPublisher(pub))
	alice := connect(t, r, "Alice")
	bob := connect(t, r, "Bob")
	drain(alice)
	drain(bob)

	r.HandleFrame(context.Background(), alice, []byte("/nick  Alicia "))

	if alice.Name() != "Alicia" {
		t.Errorf("Expected session name Alicia, got %s", alice.Name())
	}
	if name, _ := reg.DisplayName(alice.ID); name != "Alicia" {
		t.Errorf("Expected registry name Alicia, got %s", name)
	}

	for _, s := range []*Session{alice, bob} {
		msgs := drain(s)
		if len(msgs) != 1 || msgs[0].Body != "Alice is now known as Alicia" {
			t.Errorf("Expected rename notice, got %+v", msgs)
		}
	}

	r.HandleFrame(context.Background(), alice, []byte("after rename"))
	msgs := drain(bob)
	if len(msgs) != 1 || msgs[0].Sender != "Alicia" {
		t.Errorf("Expected chat from Alicia, got %+v", msgs)
	}

	types := pub.types()
	found := false
	for _, typ := range types {
		if typ == events.UserRenamed {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected user_renamed event, got %v", types)
	}
}

func TestHandleFrameNickInvalid(t *testing.T) {
	r, _ := newTestRoom(t)
	alice := connect(t, r, "Alice")
	bob := connect(t, r, "Bob")
	drain(alice)
	drain(bob)

	r.HandleFrame(context.Background(), alice, []byte("/nick System"))

	if alice.Name() != "Alice" {
		t.Errorf("Name should be unchanged, got %s", alice.Name())
	}
	msgs := drain(alice)
	if len(msgs) != 1 || msgs[0].Kind != message.KindError {
		t.Errorf("Expected error reply, got %+v", msgs)
	}
	if got := drain(bob); len(got) != 0 {
		t.Errorf("Other members should not see failed rename, got %+v", got)
	}
}

func TestHandleFrameRateLimit(t *testing.T) {
	r, _ := newTestRoom(t, WithRateLimit(rate.Limit(0.001), 2))
	alice := connect(t, r, "Alice")
	drain(alice)

	for i := 0; i < 3; i++ {
		r.HandleFrame(context.Background(), alice, []byte("spam"))
	}

	msgs := drain(alice)
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %+v", msgs)
	}
	if msgs[0].Kind != message.KindChat || msgs[1].Kind != message.KindChat {
		t.Errorf("Expected first two frames to pass, got %+v", msgs[:2])
	}
	if msgs[2].Kind != message.KindError || msgs[2].Body != "Rate limit exceeded, slow down" {
		t.Errorf("Expected rate limit error, got %+v", msgs[2])
	}
}

func TestRateLimitCountsEveryFrame(t *testing.T) {
	tests := []struct {
		name  string
		first string
	}{
		{name: "malformed", first: "{broken"},
		{name: "usage", first: "/nick"},
		{name: "empty", first: "   "},
		{name: "help", first: "/help"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRoom(t, WithRateLimit(rate.Limit(0.001), 1), WithPresenceNotices(false), WithWelcome(false))
			alice := connect(t, r, "Alice")
			bob := connect(t, r, "Bob")

			r.HandleFrame(context.Background(), alice, []byte(tt.first))
			drain(alice)
			r.HandleFrame(context.Background(), alice, []byte("hello"))

			msgs := drain(alice)
			if len(msgs) != 1 || msgs[0].Kind != message.KindError || msgs[0].Body != "Rate limit exceeded, slow down" {
				t.Errorf("Expected rate limit error, got %+v", msgs)
			}
			if got := drain(bob); len(got) != 0 {
				t.Errorf("Rate limited frame should not be broadcast, got %+v", got)
			}
		})
	}
}

func TestDisconnect(t *testing.T) {
	pub := &recordingPublisher{}
	r, reg := newTestRoom(t, WithPublisher(pub))
	alice := connect(t, r, "Alice")
	bob := connect(t, r, "Bob")
	drain(bob)

	r.Disconnect(context.Background(), alice)
	r.Disconnect(context.Background(), alice)

	if reg.Count() != 1 {
		t.Errorf("Expected 1 connection left, got %d", reg.Count())
	}

	msgs := drain(bob)
	if len(msgs) != 1 || msgs[0].Body != "Alice left the chat" {
		t.Errorf("Expected exactly one leave notice, got %+v", msgs)
	}

	drain(alice)
	if _, ok := <-alice.Messages(); ok {
		t.Error("Disconnected session channel should be closed")
	}

	left := 0
	for _, typ := range pub.types() {
		if typ == events.UserLeft {
			left++
		}
	}
	if left != 1 {
		t.Errorf("Expected 1 user_left event, got %d", left)
	}
}

func TestDisconnectWithCancelledContext(t *testing.T) {
	r, _ := newTestRoom(t)
	alice := connect(t, r, "Alice")
	bob := connect(t, r, "Bob")
	drain(bob)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Disconnect(ctx, alice)

	msgs, err := r.History(context.Background(), 1)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "Alice left the chat" {
		t.Errorf("Expected leave notice in history, got %+v", msgs)
	}
}

func TestPresenceNoticesDisabled(t *testing.T) {
	r, _ := newTestRoom(t, WithPresenceNotices(false), WithWelcome(false))
	alice := connect(t, r, "Alice")
	bob := connect(t, r, "Bob")

	if msgs := drain(alice); len(msgs) != 0 {
		t.Errorf("Expected no notices, got %+v", msgs)
	}

	r.Disconnect(context.Background(), bob)
	if msgs := drain(alice); len(msgs) != 0 {
		t.Errorf("Expected no leave notice, got %+v", msgs)
	}
}

func TestAnnounce(t *testing.T) {
	r, _ := newTestRoom(t)
	alice := connect(t, r, "Alice")
	bob := connect(t, r, "Bob")
	drain(alice)
	drain(bob)

	delivered, err := r.Announce(context.Background(), "  maintenance at noon ")
	if err != nil {
		t.Fatalf("Announce failed: %v", err)
	}
	if delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}
	msgs := drain(bob)
	if len(msgs) != 1 || msgs[0].Body != "maintenance at noon" || !msgs[0].IsSystem() {
		t.Errorf("Unexpected announcement: %+v", msgs)
	}

	if _, err := r.Announce(context.Background(), "   "); !errors.Is(err, ErrEmptyAnnouncement) {
		t.Errorf("Expected ErrEmptyAnnouncement, got %v", err)
	}
}

func TestHistoryExcludesReplies(t *testing.T) {
	r, _ := newTestRoom(t, WithPresenceNotices(false), WithHistory(history.NewMemoryStore(10)))
	alice := connect(t, r, "Alice")

	r.HandleFrame(context.Background(), alice, []byte("/help"))
	r.HandleFrame(context.Background(), alice, []byte("one"))
	r.HandleFrame(context.Background(), alice, []byte("{broken"))
	r.HandleFrame(context.Background(), alice, []byte("two"))

	msgs, err := r.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "one" || msgs[1].Body != "two" {
		t.Errorf("Expected only broadcast chat in history, got %+v", msgs)
	}
	if r.HistorySize() != 10 {
		t.Errorf("Expected history size 10, got %d", r.HistorySize())
	}
}

func TestSideEffectFailuresDoNotBlockDelivery(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	r, _ := newTestRoom(t, WithPublisher(pub), WithHistory(&failingStore{history.NewMemoryStore(10)}))
	alice := connect(t, r, "Alice")
	bob := connect(t, r, "Bob")
	drain(alice)
	drain(bob)

	r.HandleFrame(context.Background(), alice, []byte("still works"))

	if msgs := drain(bob); len(msgs) != 1 || msgs[0].Body != "still works" {
		t.Errorf("Expected delivery despite side-effect failures, got %+v", msgs)
	}
}

func TestStatusAndParticipants(t *testing.T) {
	r, _ := newTestRoom(t)
	connect(t, r, "Alice")
	connect(t, r, "Bob")

	status := r.Status()
	if status.ActiveUsers != 2 {
		t.Errorf("Expected 2 active users, got %d", status.ActiveUsers)
	}
	if len(status.Users) != 2 {
		t.Errorf("Expected 2 user names, got %v", status.Users)
	}
	if status.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	if got := len(r.Participants()); got != 2 {
		t.Errorf("Expected 2 participants, got %d", got)
	}
}

func TestSlowSessionIsPruned(t *testing.T) {
	r, reg := newTestRoom(t, WithOutboxCapacity(2), WithPresenceNotices(false), WithWelcome(false))
	slow := connect(t, r, "Slow")
	fast := connect(t, r, "Fast")

	for i := 0; i < 3; i++ {
		r.HandleFrame(context.Background(), fast, []byte("msg"))
		drain(fast)
	}

	if reg.Count() != 1 {
		t.Errorf("Expected slow session to be pruned, got %d connections", reg.Count())
	}
	if _, ok := reg.DisplayName(slow.ID); ok {
		t.Error("Slow session should no longer be registered")
	}
}

func TestEvictedSessionCannotBroadcast(t *testing.T) {
	pub := &recordingPublisher{}
	store := history.NewMemoryStore(10)
	r, reg := newTestRoom(t, WithOutboxCapacity(2), WithPresenceNotices(false), WithWelcome(false),
		WithPublisher(pub), WithHistory(store))
	slow := connect(t, r, "Slow")
	fast := connect(t, r, "Fast")

	for i := 0; i < 3; i++ {
		r.HandleFrame(context.Background(), fast, []byte("msg"))
		drain(fast)
	}
	if reg.Count() != 1 {
		t.Fatalf("Expected slow session to be pruned, got %d connections", reg.Count())
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("Pruned session should report done")
	}

	published := len(pub.types())
	r.HandleFrame(context.Background(), slow, []byte("ghost"))
	r.HandleFrame(context.Background(), slow, []byte("/nick Ghost"))

	if msgs := drain(fast); len(msgs) != 0 {
		t.Errorf("Live peers should not hear from an evicted session, got %+v", msgs)
	}
	if slow.Name() != "Slow" {
		t.Errorf("Evicted session should not be renamed, got %s", slow.Name())
	}
	if got := len(pub.types()); got != published {
		t.Errorf("Expected no events from evicted session, got %v", pub.types()[published:])
	}
	msgs, err := r.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	for _, msg := range msgs {
		if msg.Body == "ghost" {
			t.Errorf("Evicted session frame reached history: %+v", msg)
		}
	}
}

func TestDisconnectedSessionFramesDropped(t *testing.T) {
	r, _ := newTestRoom(t, WithPresenceNotices(false), WithWelcome(false))
	alice := connect(t, r, "Alice")
	bob := connect(t, r, "Bob")

	r.Disconnect(context.Background(), alice)
	r.HandleFrame(context.Background(), alice, []byte("late frame"))

	if msgs := drain(bob); len(msgs) != 0 {
		t.Errorf("Expected no delivery after disconnect, got %+v", msgs)
	}
}
