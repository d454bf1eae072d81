package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/bus"
)

type fakeChannel struct {
	*BaseChannel
	mu      sync.Mutex
	sent    []bus.OutboundMessage
	started bool
	stopped bool
}

func newFakeChannel(name string, b *bus.MessageBus) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, b, nil)}
}

func (f *fakeChannel) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.SetRunning(true)
	return nil
}

func (f *fakeChannel) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.SetRunning(false)
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// TestManager_RoutesOutboundToChannel verifies StartAll wires a channel's
// Send as the outbound handler for its tag.
func TestManager_RoutesOutboundToChannel(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Stop(context.Background())

	m := NewManager(b)
	ch := newFakeChannel("gateway", b)
	m.Register(ch)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(context.Background())

	if !ch.started || !ch.IsRunning() {
		t.Fatal("channel not started")
	}

	err := b.PublishOutboundWait(context.Background(), bus.OutboundMessage{
		Channel: "gateway",
		ChatID:  "alice:1a2b3c4d",
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("PublishOutboundWait: %v", err)
	}

	if got := ch.sentCount(); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
	ch.mu.Lock()
	msg := ch.sent[0]
	ch.mu.Unlock()
	if msg.Content != "hello" || msg.ChatID != "alice:1a2b3c4d" {
		t.Errorf("sent message = %+v", msg)
	}
}

// TestManager_StopAllStopsChannels verifies lifecycle propagation.
func TestManager_StopAllStopsChannels(t *testing.T) {
	b := bus.NewMessageBus()
	defer b.Stop(context.Background())

	m := NewManager(b)
	ch := newFakeChannel("gateway", b)
	m.Register(ch)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	ch.mu.Lock()
	stopped := ch.stopped
	ch.mu.Unlock()
	if !stopped {
		t.Error("channel not stopped")
	}
	if ch.IsRunning() {
		t.Error("channel still marked running")
	}
}

// TestManager_Names verifies tag listing.
func TestManager_Names(t *testing.T) {
	b := bus.NewMessageBusSized(4, time.Second)
	defer b.Stop(context.Background())

	m := NewManager(b)
	m.Register(newFakeChannel("zeta", b))
	m.Register(newFakeChannel("alpha", b))

	names := m.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names = %v", names)
	}
}

// TestBaseChannel_IsAllowed verifies allow-list semantics.
func TestBaseChannel_IsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		user      string
		want      bool
	}{
		{"empty list allows everyone", nil, "anyone", true},
		{"listed user allowed", []string{"alice", "bob"}, "alice", true},
		{"unlisted user rejected", []string{"alice", "bob"}, "mallory", false},
		{"anonymous rejected when listed users only", []string{"alice"}, "anonymous", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("test", nil, tt.allowList)
			if got := c.IsAllowed(tt.user); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.user, got, tt.want)
			}
		})
	}
}
