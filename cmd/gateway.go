package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/agent"
	"github.com/engramhq/engram/internal/bootstrap"
	"github.com/engramhq/engram/internal/bus"
	"github.com/engramhq/engram/internal/channels"
	"github.com/engramhq/engram/internal/channels/openaigw"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/memory/embeddings"
	"github.com/engramhq/engram/internal/memory/file"
	"github.com/engramhq/engram/internal/memory/pg"
	"github.com/engramhq/engram/internal/providers"
	"github.com/engramhq/engram/internal/tools"
)

// shutdownTimeout bounds the teardown sequence after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the agent runtime and its channels (same as running engram with no command)",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Load config
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Resolve workspace (must be absolute: the system prompt and the file
	// memory backend key off it)
	workspace := config.ExpandHome(cfg.Agent.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	os.MkdirAll(workspace, 0755)

	// Seed bootstrap templates to disk
	seededFiles, seedErr := bootstrap.EnsureWorkspaceFiles(workspace)
	if seedErr != nil {
		slog.Warn("bootstrap template seeding failed", "error", seedErr)
	} else if len(seededFiles) > 0 {
		slog.Info("seeded workspace templates", "files", seededFiles)
	}

	mem := buildMemory(context.Background(), cfg, workspace)

	// Core components
	msgBus := bus.NewMessageBusSized(cfg.Bus.QueueSize, cfg.Bus.IdleWorkerTTL())
	provider := providers.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Agent.Model)

	toolsReg := tools.NewRegistry()
	tools.RegisterMemoryTools(toolsReg, mem.backend)

	builder := agent.NewContextBuilder(workspace, mem.backend)

	ag := agent.New(agent.Config{
		Bus:            msgBus,
		Provider:       provider,
		Model:          cfg.Agent.Model,
		MaxTokens:      cfg.Agent.MaxTokens,
		MaxIterations:  cfg.Agent.MaxToolIterations,
		MaxConcurrent:  cfg.Agent.MaxConcurrent,
		Tools:          toolsReg,
		ContextBuilder: builder,
		Ingestor:       mem.ingestor,
	})
	ag.Subscribe()

	// Channel manager
	channelMgr := channels.NewManager(msgBus)
	if cfg.Channels.OpenAI.Enabled {
		channelMgr.Register(openaigw.New(cfg.Channels.OpenAI, msgBus))
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Workspace watcher so persona file edits take effect without a restart.
	changed, stopWatch, watchErr := bootstrap.Watch(workspace)
	if watchErr != nil {
		slog.Warn("workspace watcher unavailable", "error", watchErr)
	} else {
		go func() {
			for range changed {
				slog.Info("workspace files changed, reloading system prompt")
				builder.Invalidate()
			}
		}()
	}

	// Start embedding worker (postgres + embeddings only)
	if mem.worker != nil {
		if err := mem.worker.Start(ctx); err != nil {
			slog.Warn("embedding worker failed to start", "error", err)
		}
	}

	// Start channels
	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()

		// Channels first so no new work arrives, then the bus so queued
		// turns drain, then the stores underneath them.
		channelMgr.StopAll(shutdownCtx)
		if stopWatch != nil {
			stopWatch()
		}
		if mem.worker != nil {
			mem.worker.Stop(shutdownCtx)
		}
		if err := msgBus.Stop(shutdownCtx); err != nil {
			slog.Warn("bus drain incomplete", "error", err)
		}
		if err := mem.backend.Close(shutdownCtx); err != nil {
			slog.Warn("memory close failed", "error", err)
		}
		cancel()
	}()

	slog.Info("engram starting",
		"version", Version,
		"model", cfg.Agent.Model,
		"memory", mem.name,
		"tools", toolsReg.Count(),
		"channels", channelMgr.Names(),
	)

	<-ctx.Done()
}

// memoryStack bundles the backend with the pieces wired around it.
type memoryStack struct {
	backend  memory.Backend
	ingestor memory.Ingestor
	worker   *pg.Worker // nil unless postgres with embeddings configured
	name     string
}

// buildMemory selects and initializes the memory backend. Postgres problems
// degrade to the file backend with a warning so the agent always starts.
func buildMemory(ctx context.Context, cfg *config.Config, workspace string) memoryStack {
	if cfg.Memory.Backend != "postgres" {
		return fileMemory(ctx, workspace)
	}

	dsn := cfg.Memory.Postgres.DSN
	if dsn == "" {
		slog.Warn("memory.backend is postgres but no DSN configured, falling back to file")
		return fileMemory(ctx, workspace)
	}

	store := pg.NewStore(pg.Config{
		DSN:                 dsn,
		Dimensions:          cfg.Memory.Embedding.Dimensions,
		PoolMinSize:         cfg.Memory.Postgres.PoolMinSize,
		PoolMaxSize:         cfg.Memory.Postgres.PoolMaxSize,
		SemanticSearchLimit: cfg.Memory.SemanticSearchLimit,
	})
	if err := store.Initialize(ctx); err != nil {
		slog.Warn("postgres memory unavailable, falling back to file", "error", err)
		return fileMemory(ctx, workspace)
	}

	var worker *pg.Worker
	if cfg.Memory.Embedding.Configured() {
		svc, err := embeddings.NewService(embeddings.Config{
			Model:      cfg.Memory.Embedding.Model,
			Dimensions: cfg.Memory.Embedding.Dimensions,
			BaseURL:    cfg.Memory.Embedding.BaseURL,
			APIKey:     cfg.Memory.Embedding.APIKey,
		})
		if err != nil {
			slog.Warn("embedding service unavailable, semantic search disabled", "error", err)
		} else {
			store.SetEmbedder(svc)
			worker = pg.NewWorker(dsn, cfg.Memory.Worker.PollInterval(), svc)
		}
	}

	var ingestor memory.Ingestor = memory.NullIngestor{}
	if cfg.Memory.AutoIngest {
		ingestor = pg.NewIngestor(store)
	}

	slog.Info("postgres memory enabled",
		"auto_ingest", cfg.Memory.AutoIngest,
		"semantic_search", worker != nil,
	)
	return memoryStack{backend: store, ingestor: ingestor, worker: worker, name: "postgres"}
}

func fileMemory(ctx context.Context, workspace string) memoryStack {
	store := file.NewStore(workspace)
	if err := store.Initialize(ctx); err != nil {
		slog.Warn("file memory initialization failed", "error", err)
	}
	return memoryStack{backend: store, ingestor: memory.NullIngestor{}, name: "file"}
}
