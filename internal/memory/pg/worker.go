package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// visibilityTimeout is how long a read message stays hidden from other
// readers. A job that is neither archived nor skipped reappears after this
// many seconds, which is the retry mechanism.
const visibilityTimeout = 30

const defaultPollInterval = 2 * time.Second

// Worker drains the embedding queue: it reads one job at a time, embeds the
// content, and writes the vector back to the job's row. Jobs are archived
// only after the row update succeeds, so failures are retried automatically.
type Worker struct {
	dsn      string
	interval time.Duration
	embedder Embedder
	tables   tableSet

	pool   *pgxpool.Pool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(dsn string, pollInterval time.Duration, embedder Embedder) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Worker{
		dsn:      dsn,
		interval: pollInterval,
		embedder: embedder,
		tables:   tablesFor(embedder.Dimensions()),
	}
}

// Start connects a small dedicated pool and launches the poll loop.
func (w *Worker) Start(ctx context.Context) error {
	pcfg, err := pgxpool.ParseConfig(w.dsn)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MinConns = 1
	pcfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	w.pool = pool

	loopCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(loopCtx)

	slog.Info("memory embedding worker started",
		"queue", embedQueue, "dimensions", w.embedder.Dimensions())
	return nil
}

// Stop ends the poll loop and closes the pool. It waits for an in-flight job
// up to the context deadline.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.pool.Close()
	slog.Info("memory embedding worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.pollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("memory worker poll failed", "error", err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// pollOnce reads at most one message and processes it. It returns false when
// the queue is empty or the job failed, telling the loop to back off.
func (w *Worker) pollOnce(ctx context.Context) (bool, error) {
	var msgID int64
	var payload []byte
	err := w.pool.QueryRow(ctx,
		"SELECT msg_id, message FROM pgmq.read($1, $2, $3)",
		embedQueue, visibilityTimeout, 1).Scan(&msgID, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read embedding queue: %w", err)
	}

	switch w.handle(ctx, w.pool, payload) {
	case msgArchive:
		if _, err := w.pool.Exec(ctx, "SELECT pgmq.archive($1, $2)", embedQueue, msgID); err != nil {
			return true, fmt.Errorf("archive message %d: %w", msgID, err)
		}
		return true, nil
	case msgSkip:
		// Another family's job stays invisible until the timeout; keep
		// draining the rest of the queue meanwhile.
		return true, nil
	default:
		return false, nil
	}
}

// disposition is what the worker decides to do with a read message.
type disposition int

const (
	msgArchive disposition = iota // done or unusable; remove from the queue
	msgSkip                       // belongs to another dimension family
	msgRetry                      // transient failure; redeliver later
)

// execer is the slice of the pool the handler needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (w *Worker) handle(ctx context.Context, db execer, payload []byte) disposition {
	var job embedJob
	if err := json.Unmarshal(payload, &job); err != nil {
		slog.Error("discarding malformed embedding job", "error", err)
		return msgArchive
	}
	if job.Dimensions != w.embedder.Dimensions() {
		return msgSkip
	}
	if !w.tables.contains(job.Table) {
		slog.Error("discarding embedding job for unknown table", "table", job.Table)
		return msgArchive
	}

	vec, err := w.embedder.Embed(ctx, job.Content)
	if err != nil {
		slog.Warn("failed to embed memory row", "table", job.Table, "id", job.ID, "error", err)
		return msgRetry
	}
	if _, err := db.Exec(ctx,
		"UPDATE "+job.Table+" SET embedding = $1::vector, updated_at = now() WHERE id = $2",
		pgvector.NewVector(vec), job.ID); err != nil {
		slog.Warn("failed to store embedding", "table", job.Table, "id", job.ID, "error", err)
		return msgRetry
	}

	slog.Debug("embedded memory row", "table", job.Table, "id", job.ID, "dims", len(vec))
	return msgArchive
}
