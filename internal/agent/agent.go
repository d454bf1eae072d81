// Package agent runs the reasoning loop: it consumes inbound messages from
// the bus, assembles a prompt, drives the provider through bounded tool
// iterations, and publishes the reply back to the originating channel.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/engramhq/engram/internal/bus"
	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/providers"
	"github.com/engramhq/engram/internal/tools"
)

const (
	defaultMaxIterations = 6
	defaultMaxConcurrent = 8
)

// errorReply is delivered when the provider or tool machinery fails. The
// request is always answered; failures never vanish into a log line alone.
const errorReply = "Sorry, I ran into an error handling that message. Please try again."

// Agent is the loop between the bus and the provider. One instance serves
// every session; per-session ordering comes from the bus, total concurrency
// is capped by the semaphore.
type Agent struct {
	msgBus        *bus.MessageBus
	provider      providers.Provider
	model         string
	maxTokens     int
	maxIterations int
	registry      *tools.Registry
	builder       *ContextBuilder
	ingestor      memory.Ingestor
	sem           *semaphore.Weighted
}

// Config configures a new Agent. Zero values select defaults where noted.
type Config struct {
	Bus            *bus.MessageBus
	Provider       providers.Provider
	Model          string // empty = provider default
	MaxTokens      int
	MaxIterations  int // tool iteration cap, default 6
	MaxConcurrent  int // concurrent session cap, default 8
	Tools          *tools.Registry
	ContextBuilder *ContextBuilder
	Ingestor       memory.Ingestor // nil = turns are not recorded
}

func New(cfg Config) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	model := cfg.Model
	if model == "" {
		model = cfg.Provider.DefaultModel()
	}
	ingestor := cfg.Ingestor
	if ingestor == nil {
		ingestor = memory.NullIngestor{}
	}
	return &Agent{
		msgBus:        cfg.Bus,
		provider:      cfg.Provider,
		model:         model,
		maxTokens:     cfg.MaxTokens,
		maxIterations: cfg.MaxIterations,
		registry:      cfg.Tools,
		builder:       cfg.ContextBuilder,
		ingestor:      ingestor,
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Subscribe registers the agent as an inbound handler on the bus.
func (a *Agent) Subscribe() {
	a.msgBus.SubscribeInbound(a.HandleMessage)
}

// HandleMessage processes one inbound message end to end. The bus calls it
// on a per-session worker, so a session never sees two turns at once.
func (a *Agent) HandleMessage(msg bus.InboundMessage) error {
	ctx := context.Background()
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer a.sem.Release(1)

	start := time.Now()
	reply, runErr := a.runTurn(ctx, msg)
	if runErr != nil {
		slog.Error("agent turn failed", "session", msg.SessionKey(), "error", runErr)
		reply = errorReply
	}

	if msg.WantsStream() {
		a.finishStream(ctx, msg, reply, runErr)
	}

	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	}
	if err := a.msgBus.PublishOutboundWait(ctx, out); err != nil {
		slog.Warn("outbound publish failed", "session", msg.SessionKey(), "error", err)
	}

	if runErr == nil {
		a.ingestor.IngestTurn(ctx, msg.SessionKey(), msg.Content, reply)
	}

	slog.Debug("agent turn complete",
		"session", msg.SessionKey(), "duration", time.Since(start))
	return nil
}

// runTurn drives the provider until it stops asking for tools or the
// iteration cap is hit.
func (a *Agent) runTurn(ctx context.Context, msg bus.InboundMessage) (string, error) {
	messages := a.builder.BuildMessages(ctx, msg.Channel, msg.ChatID, msg.Content)
	toolDefs := a.registry.ProviderDefs()

	var finalContent string
	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		slog.Debug("agent iteration",
			"session", msg.SessionKey(), "iteration", iteration, "messages", len(messages))

		req := providers.ChatRequest{
			Messages:  messages,
			Tools:     toolDefs,
			Model:     a.model,
			MaxTokens: a.maxTokens,
		}

		var resp *providers.ChatResponse
		var err error
		if msg.WantsStream() {
			resp, err = a.provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
				if chunk.Content == "" {
					return
				}
				// A failed push means the client is gone. The turn still
				// finishes so the reply is published and ingested.
				if pushErr := msg.Stream.Push(ctx, bus.StreamChunk{Content: chunk.Content}); pushErr != nil {
					slog.Debug("stream push failed",
						"session", msg.SessionKey(), "error", pushErr)
				}
			})
		} else {
			resp, err = a.provider.Chat(ctx, req)
		}
		if err != nil {
			return "", fmt.Errorf("chat call failed (iteration %d): %w", iteration, err)
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			slog.Info("tool call", "session", msg.SessionKey(), "tool", tc.Name)
			result := a.registry.Execute(ctx, tc.Name, tc.Arguments)
			if result.IsError {
				slog.Warn("tool error",
					"session", msg.SessionKey(), "tool", tc.Name, "result", result.ForLLM)
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			})
		}
	}

	if finalContent == "" {
		finalContent = "..."
	}
	return finalContent, nil
}

// finishStream sends the error reply (when the turn failed) and the
// terminal chunk. Push errors mean the consumer already closed the sink.
func (a *Agent) finishStream(ctx context.Context, msg bus.InboundMessage, reply string, runErr error) {
	if runErr != nil {
		if err := msg.Stream.Push(ctx, bus.StreamChunk{Content: reply}); err != nil {
			return
		}
	}
	if err := msg.Stream.Push(ctx, bus.StreamChunk{IsFinal: true, FinishReason: bus.FinishStop}); err != nil {
		slog.Debug("final stream chunk not delivered",
			"session", msg.SessionKey(), "error", err)
	}
}
