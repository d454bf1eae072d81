// Package openaigw serves an OpenAI-compatible chat completions API backed
// by the message bus. Each request becomes a fresh inbound message; replies
// come back either through a per-request result holder (non-streaming) or a
// stream sink (SSE).
package openaigw

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/bus"
	"github.com/engramhq/engram/internal/channels"
	"github.com/engramhq/engram/internal/config"
)

// ChannelName is the bus routing tag for this channel.
const ChannelName = "openai"

// statusClientClosedRequest mirrors nginx's convention for a caller that
// went away before the reply did.
const statusClientClosedRequest = 499

const (
	maxBodyBytes     = 1 << 20
	streamBufferSize = 16
	shutdownGrace    = 5 * time.Second
)

// Channel is the OpenAI-compatible HTTP gateway.
type Channel struct {
	*channels.BaseChannel

	host      string
	port      int
	apiKeys   []string
	timeout   time.Duration
	modelName string
	limiter   *keyLimiter

	server *http.Server
	addr   string

	mu      sync.Mutex
	pending map[string]chan string

	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates the channel from its config section. The model name falls
// back to "engram" when unset.
func New(cfg config.OpenAIChannelConfig, msgBus *bus.MessageBus) *Channel {
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "engram"
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(ChannelName, msgBus, cfg.AllowedUsers),
		host:        cfg.Host,
		port:        cfg.Port,
		apiKeys:     cfg.APIKeys,
		timeout:     cfg.Timeout(),
		modelName:   modelName,
		limiter:     newKeyLimiter(cfg.RateLimitPerMinute, 0),
		pending:     make(map[string]chan string),
		stopped:     make(chan struct{}),
	}
}

// Start binds the listener and serves in the background. It returns an
// error only when the address cannot be bound.
func (c *Channel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", c.handleChatCompletions)
	mux.HandleFunc("GET /health", c.handleHealth)

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("openai channel listen: %w", err)
	}
	c.addr = ln.Addr().String()
	c.server = &http.Server{Handler: mux}

	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("openai channel server error", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("openai channel started", "addr", c.addr)
	return nil
}

// Stop wakes every pending waiter, then shuts the server down, letting
// in-flight handlers write their final status.
func (c *Channel) Stop(ctx context.Context) error {
	if !c.IsRunning() {
		return nil
	}
	c.SetRunning(false)

	c.stopOnce.Do(func() { close(c.stopped) })

	c.mu.Lock()
	c.pending = make(map[string]chan string)
	c.mu.Unlock()

	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("openai channel shutdown: %w", err)
		}
	}
	slog.Info("openai channel stopped")
	return nil
}

// Addr returns the bound listen address, useful when port 0 was requested.
func (c *Channel) Addr() string { return c.addr }

// Send resolves the result holder waiting on msg.ChatID. Streamed chats and
// expired waiters have no holder; their messages are dropped silently.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	holder, ok := c.pending[msg.ChatID]
	if ok {
		delete(c.pending, msg.ChatID)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("no waiter for outbound message", "chat_id", msg.ChatID)
		return nil
	}
	holder <- msg.Content
	return nil
}

func (c *Channel) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Channel) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if c.limiter != nil && !c.limiter.Allow(rateLimitKey(r)) {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", "rate_limit_error")
		return
	}

	if !c.verifyAPIKey(r) {
		writeError(w, http.StatusUnauthorized, "Invalid API key", "invalid_request_error")
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", "invalid_request_error")
		return
	}

	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required", "invalid_request_error")
		return
	}

	user := req.User
	if user == "" {
		user = "anonymous"
	}

	content := lastUserContent(req.Messages)
	if content == "" {
		writeError(w, http.StatusBadRequest, "No user message found", "invalid_request_error")
		return
	}

	if !c.IsAllowed(user) {
		writeError(w, http.StatusForbidden, "User not allowed", "permission_error")
		return
	}

	requestID := "chatcmpl-" + randomHex(24)
	chatID := user + ":" + randomHex(8)

	if req.Stream {
		c.handleStream(w, r, requestID, chatID, user, content)
	} else {
		c.handleNonStream(w, r, requestID, chatID, user, content)
	}
}

func (c *Channel) handleNonStream(w http.ResponseWriter, r *http.Request, requestID, chatID, user, content string) {
	holder := make(chan string, 1)
	c.mu.Lock()
	c.pending[chatID] = holder
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, chatID)
		c.mu.Unlock()
	}()

	inbound := bus.InboundMessage{
		Channel:   ChannelName,
		SenderID:  user,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
	}
	if err := c.Bus().PublishInbound(r.Context(), inbound); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to accept request", "internal_error")
		return
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-holder:
		writeJSON(w, http.StatusOK, chatCompletionResponse{
			ID:      requestID,
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   c.modelName,
			Choices: []completionChoice{{
				Index:        0,
				Message:      replyMessage{Role: "assistant", Content: reply},
				FinishReason: "stop",
			}},
			Usage: usage{
				PromptTokens:     len(content) / 4,
				CompletionTokens: len(reply) / 4,
				TotalTokens:      (len(content) + len(reply)) / 4,
			},
		})
	case <-timer.C:
		writeError(w, http.StatusGatewayTimeout, "Request timeout", "timeout_error")
	case <-r.Context().Done():
		writeError(w, statusClientClosedRequest, "Request cancelled", "cancelled_error")
	case <-c.stopped:
		writeError(w, statusClientClosedRequest, "Request cancelled", "cancelled_error")
	}
}

func (c *Channel) handleStream(w http.ResponseWriter, r *http.Request, requestID, chatID, user, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", "internal_error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := bus.NewStreamSink(streamBufferSize)
	defer sink.Close()

	inbound := bus.InboundMessage{
		Channel:   ChannelName,
		SenderID:  user,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
		Stream:    sink,
	}
	if err := c.Bus().PublishInbound(r.Context(), inbound); err != nil {
		c.writeStreamError(w, flusher, "Failed to accept request", "internal_error")
		writeDone(w, flusher)
		return
	}

	// The timeout applies per chunk, matching the non-streaming wait.
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

loop:
	for {
		select {
		case chunk, ok := <-sink.C():
			if !ok {
				break loop
			}
			if err := writeSSE(w, flusher, c.chunkFrame(requestID, chunk)); err != nil {
				break loop
			}
			if chunk.IsFinal {
				break loop
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.timeout)
		case <-timer.C:
			c.writeStreamError(w, flusher, "Stream timeout", "timeout_error")
			break loop
		case <-r.Context().Done():
			break loop
		case <-c.stopped:
			break loop
		}
	}

	writeDone(w, flusher)
}

func (c *Channel) chunkFrame(requestID string, chunk bus.StreamChunk) chunkResponse {
	choice := chunkChoice{Index: 0}
	if chunk.Content != "" {
		choice.Delta.Content = chunk.Content
	}
	if chunk.IsFinal {
		reason := chunk.FinishReason
		if reason == "" {
			reason = bus.FinishStop
		}
		choice.Delta = chunkDelta{}
		choice.FinishReason = &reason
	}
	return chunkResponse{
		ID:      requestID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   c.modelName,
		Choices: []chunkChoice{choice},
	}
}

// verifyAPIKey checks the bearer token against the configured keys. No
// configured keys means the endpoint is open.
func (c *Channel) verifyAPIKey(r *http.Request) bool {
	if len(c.apiKeys) == 0 {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	token := auth[len(prefix):]
	for _, key := range c.apiKeys {
		if token == key {
			return true
		}
	}
	return false
}

func (c *Channel) writeStreamError(w http.ResponseWriter, flusher http.Flusher, message, errType string) {
	if err := writeSSE(w, flusher, errorBody{Error: errorDetail{Message: message, Type: errType}}); err != nil {
		slog.Debug("stream error frame not delivered", "error", err)
	}
}

func randomHex(n int) string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:n]
}
