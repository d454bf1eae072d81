// Package bus provides the in-process message fabric between channels and
// the agent: inbound messages fan out to subscribers with per-session
// ordering, outbound messages route to the channel that delivers them.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBusClosed is returned by publish operations after Stop.
var ErrBusClosed = errors.New("bus: closed")

// ErrNoHandler is returned by awaited publishes when no handler is
// registered for the target channel.
var ErrNoHandler = errors.New("bus: no outbound handler for channel")

const (
	// DefaultQueueSize bounds in-flight messages per session key.
	DefaultQueueSize = 16
	// DefaultWorkerTTL is how long an idle session worker lingers before
	// its queue is reaped.
	DefaultWorkerTTL = 60 * time.Second
)

// MessageBus is the in-process broker wiring channels to the agent.
//
// Inbound flow: channels publish InboundMessages; every subscribed handler
// receives every message, serialized per session key so one conversation
// is handled strictly in order while different conversations proceed
// concurrently. Outbound flow: the agent publishes OutboundMessages; the
// handler registered for msg.Channel delivers them, serialized per channel.
type MessageBus struct {
	mu               sync.RWMutex
	inboundHandlers  []InboundHandler
	outboundHandlers map[string]OutboundHandler

	inbound  *dispatcher[InboundMessage]
	outbound *dispatcher[outboundItem]
}

// outboundItem pairs an outbound message with an optional completion
// channel for awaited publishes.
type outboundItem struct {
	msg  OutboundMessage
	done chan error
}

// NewMessageBus returns a live bus with default queue bounds.
func NewMessageBus() *MessageBus {
	return NewMessageBusSized(DefaultQueueSize, DefaultWorkerTTL)
}

// NewMessageBusSized returns a live bus with an explicit per-key queue
// bound and idle worker lifetime. Non-positive values select the defaults.
func NewMessageBusSized(queueSize int, workerTTL time.Duration) *MessageBus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if workerTTL <= 0 {
		workerTTL = DefaultWorkerTTL
	}
	b := &MessageBus{
		outboundHandlers: make(map[string]OutboundHandler),
	}
	b.inbound = newDispatcher(queueSize, workerTTL, b.deliverInbound)
	b.outbound = newDispatcher(queueSize, workerTTL, b.deliverOutbound)
	return b
}

// SubscribeInbound registers handler to receive every inbound message.
func (b *MessageBus) SubscribeInbound(handler InboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboundHandlers = append(b.inboundHandlers, handler)
}

// SubscribeOutbound registers handler as the deliverer for channel.
// Registering the same channel again replaces the previous handler.
func (b *MessageBus) SubscribeOutbound(channel string, handler OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outboundHandlers[channel] = handler
}

// PublishInbound enqueues msg for delivery and returns once it is
// accepted, not once handlers finish. When the session's queue is full it
// blocks until space frees up rather than dropping the message; ctx bounds
// the wait.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return b.inbound.publish(ctx, msg.SessionKey(), msg)
}

// PublishOutbound routes msg to the handler registered for msg.Channel.
// Delivery is asynchronous; failures are logged, not returned.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	if err := b.outbound.publish(context.Background(), msg.Channel, outboundItem{msg: msg}); err != nil {
		slog.Warn("outbound publish rejected", "channel", msg.Channel, "error", err)
	}
}

// PublishOutboundWait routes msg like PublishOutbound and waits until the
// channel handler has run, returning its error.
func (b *MessageBus) PublishOutboundWait(ctx context.Context, msg OutboundMessage) error {
	done := make(chan error, 1)
	if err := b.outbound.publish(ctx, msg.Channel, outboundItem{msg: msg, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.outbound.stopped:
		// Prefer the delivery result if it raced with shutdown.
		select {
		case err := <-done:
			return err
		default:
			return ErrBusClosed
		}
	}
}

// Stop ends intake on both flows and waits for in-flight handlers to
// finish, up to the context deadline. Messages accepted but not yet
// delivered are dropped.
func (b *MessageBus) Stop(ctx context.Context) error {
	inErr := b.inbound.stop(ctx)
	outErr := b.outbound.stop(ctx)
	if inErr != nil {
		return inErr
	}
	return outErr
}

// deliverInbound fans one message out to every inbound subscriber.
func (b *MessageBus) deliverInbound(msg InboundMessage) {
	b.mu.RLock()
	handlers := make([]InboundHandler, len(b.inboundHandlers))
	copy(handlers, b.inboundHandlers)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Warn("inbound message has no subscriber", "session", msg.SessionKey())
		return
	}
	for _, h := range handlers {
		if err := callInbound(h, msg); err != nil {
			slog.Error("inbound handler failed", "session", msg.SessionKey(), "error", err)
		}
	}
}

// deliverOutbound hands one message to its channel handler and resolves
// the awaiter, if any.
func (b *MessageBus) deliverOutbound(item outboundItem) {
	b.mu.RLock()
	handler, ok := b.outboundHandlers[item.msg.Channel]
	b.mu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrNoHandler, item.msg.Channel)
		slog.Warn("outbound message dropped", "channel", item.msg.Channel, "chat_id", item.msg.ChatID)
	} else if err = callOutbound(handler, item.msg); err != nil {
		slog.Error("outbound delivery failed", "channel", item.msg.Channel, "chat_id", item.msg.ChatID, "error", err)
	}
	if item.done != nil {
		item.done <- err
	}
}

// callInbound invokes one subscriber, converting a panic into an error so
// the remaining subscribers still see the message.
func callInbound(handler InboundHandler, msg InboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: inbound handler panic: %v", r)
		}
	}()
	return handler(msg)
}

// callOutbound invokes the channel handler, converting a panic into an
// error so awaited publishes always resolve.
func callOutbound(handler OutboundHandler, msg OutboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: outbound handler panic: %v", r)
		}
	}()
	return handler(msg)
}
