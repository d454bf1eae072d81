package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/engramhq/engram/internal/bus"
)

// Manager owns the registered channels: it wires each channel's Send into
// the bus as the outbound handler for its tag and drives channel lifecycle.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
	cancel   context.CancelFunc
}

func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// Register adds a channel under its own tag. Call before StartAll.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by tag.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel tags, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll subscribes every channel to its outbound traffic and starts it.
// A channel that fails to start aborts startup; a half-started process
// serving some channels hides configuration mistakes.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	// Outbound deliveries keep flowing after the run context ends so
	// replies in flight drain during shutdown; StopAll cuts them off.
	sendCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for name, ch := range m.channels {
		ch := ch
		m.bus.SubscribeOutbound(name, func(msg bus.OutboundMessage) error {
			return ch.Send(sendCtx, msg)
		})

		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start channel %s: %w", name, err)
		}
	}
	return nil
}

// StopAll stops every channel, then cuts off outbound delivery.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ch := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}
