package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("engram doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Provider
	fmt.Println()
	fmt.Println("  Provider:")
	checkKey("API key", cfg.Provider.APIKey)
	base := cfg.Provider.BaseURL
	if base == "" {
		base = "(OpenAI default)"
	}
	fmt.Printf("    %-12s %s\n", "Base URL:", base)
	fmt.Printf("    %-12s %s\n", "Model:", cfg.Agent.Model)

	// Workspace
	fmt.Println()
	ws := cfg.WorkspacePath()
	if !filepath.IsAbs(ws) {
		ws, _ = filepath.Abs(ws)
	}
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND, created on first start)")
	} else if probeErr := probeWritable(ws); probeErr != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", probeErr)
	} else {
		fmt.Println(" (OK)")
	}

	// Memory
	fmt.Println()
	fmt.Println("  Memory:")
	fmt.Printf("    %-12s %s\n", "Backend:", cfg.Memory.Backend)
	if cfg.Memory.Backend == "postgres" {
		checkPostgres(cfg)
	}
	if cfg.Memory.Embedding.Configured() {
		fmt.Printf("    %-12s %s (%d dims)\n", "Embedding:", cfg.Memory.Embedding.Model, cfg.Memory.Embedding.Dimensions)
		checkKey("Embed key", cfg.Memory.Embedding.APIKey)
	} else {
		fmt.Printf("    %-12s (not configured, semantic search disabled)\n", "Embedding:")
	}

	// Channels
	fmt.Println()
	fmt.Println("  Channels:")
	oa := cfg.Channels.OpenAI
	status := "disabled"
	if oa.Enabled {
		status = fmt.Sprintf("enabled on %s:%d", oa.Host, oa.Port)
		if len(oa.APIKeys) == 0 {
			status += " (no API keys, open access)"
		}
	}
	fmt.Printf("    %-12s %s\n", "OpenAI:", status)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkKey(name, key string) {
	if key == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := strings.Repeat("*", len(key))
	if len(key) > 8 {
		masked = key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkPostgres(cfg *config.Config) {
	dsn := cfg.Memory.Postgres.DSN
	if dsn == "" {
		fmt.Printf("    %-12s NO DSN (falls back to file)\n", "Postgres:")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Postgres:", err)
		return
	}
	defer conn.Close(ctx)
	fmt.Printf("    %-12s connected\n", "Postgres:")

	checkExtension(ctx, conn, "vector")
	checkExtension(ctx, conn, "pgmq")
}

func checkExtension(ctx context.Context, conn *pgx.Conn, name string) {
	var installed bool
	err := conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = $1)", name).Scan(&installed)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", name+":", err)
	case installed:
		fmt.Printf("    %-12s installed\n", name+":")
	default:
		fmt.Printf("    %-12s MISSING (run: CREATE EXTENSION %s)\n", name+":", name)
	}
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
