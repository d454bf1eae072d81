package pg

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/engramhq/engram/internal/memory"
)

// Ingestor records dialogue turns as conversation rows so they become
// retrievable through semantic search. Ingestion is bookkeeping: failures
// are logged and swallowed, never surfaced to the reply path.
type Ingestor struct {
	store *Store
}

var _ memory.Ingestor = (*Ingestor)(nil)

func NewIngestor(store *Store) *Ingestor {
	return &Ingestor{store: store}
}

// IngestTurn inserts the non-empty halves of a turn and enqueues their
// embedding jobs, all in one transaction. A job's embedding input is
// "role: content", matching how search renders conversation rows.
func (g *Ingestor) IngestTurn(ctx context.Context, sessionKey, userMsg, assistantMsg string) {
	if err := g.ingest(ctx, sessionKey, userMsg, assistantMsg); err != nil {
		slog.Warn("failed to ingest conversation turn", "session", sessionKey, "error", err)
	}
}

func (g *Ingestor) ingest(ctx context.Context, sessionKey, userMsg, assistantMsg string) error {
	halves := turnHalves(userMsg, assistantMsg)
	if len(halves) == 0 {
		return nil
	}

	table := g.store.tables.conversation
	tx, err := g.store.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, h := range halves {
		var id int64
		err := tx.QueryRow(ctx,
			"INSERT INTO "+table+" (session_key, role, content) VALUES ($1, $2, $3) RETURNING id",
			sessionKey, h.role, h.content).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert %s message: %w", h.role, err)
		}
		if err := enqueueEmbedding(ctx, tx, embedJob{
			Table:      table,
			ID:         id,
			Content:    h.role + ": " + h.content,
			Dimensions: g.store.cfg.Dimensions,
		}); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	slog.Debug("ingested conversation turn", "session", sessionKey)
	return nil
}

type half struct {
	role    string
	content string
}

// turnHalves drops empty halves; a fully empty turn ingests nothing.
func turnHalves(userMsg, assistantMsg string) []half {
	var halves []half
	if userMsg != "" {
		halves = append(halves, half{"user", userMsg})
	}
	if assistantMsg != "" {
		halves = append(halves, half{"assistant", assistantMsg})
	}
	return halves
}
