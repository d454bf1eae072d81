package bus

import "time"

// InboundMessage represents a message received from a channel (HTTP gateway, Telegram, etc.)
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Media     []string          `json:"media,omitempty"` // local file paths or URIs
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Stream, when set, receives incremental reply chunks for this message.
	// It is process-local and never round-trips through serialization.
	Stream *StreamSink `json:"-"`
}

// SessionKey returns the conversation identity used for ordered delivery.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// WantsStream reports whether the publisher attached a stream sink.
func (m InboundMessage) WantsStream() bool {
	return m.Stream != nil
}

// OutboundMessage represents a reply to be delivered to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	ReplyTo  string            `json:"reply_to,omitempty"`
	Media    []string          `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StreamChunk is one increment of a streamed reply. The final chunk of a
// request has IsFinal set and carries the finish reason; no chunk follows it.
type StreamChunk struct {
	Content      string `json:"content"`
	IsFinal      bool   `json:"is_final"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Finish reasons carried on the final chunk of a stream.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
	FinishError     = "error"
)

// InboundHandler processes one inbound message. Returned errors are logged
// by the bus and never propagate to the publisher.
type InboundHandler func(msg InboundMessage) error

// OutboundHandler delivers one outbound message to its channel.
type OutboundHandler func(msg OutboundMessage) error
