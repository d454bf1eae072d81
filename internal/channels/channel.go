// Package channels connects external protocol surfaces to the agent runtime
// via the message bus. A channel turns its protocol's requests into inbound
// messages and delivers outbound messages back to the caller.
package channels

import (
	"context"

	"github.com/engramhq/engram/internal/bus"
)

// Channel is the contract every channel implementation satisfies.
type Channel interface {
	// Name returns the channel tag used for bus routing.
	Name() string

	// Start begins accepting traffic. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the channel down, releasing any waiting callers.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel's consumer.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is accepting traffic.
	IsRunning() bool
}

// BaseChannel carries the state every channel shares. Implementations embed
// it.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   bool
	allowList []string
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the channel tag.
func (c *BaseChannel) Name() string { return c.name }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsRunning reports whether the channel is accepting traffic.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// IsAllowed checks a user against the channel's allow-list. An empty list
// allows everyone.
func (c *BaseChannel) IsAllowed(user string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if user == allowed {
			return true
		}
	}
	return false
}
