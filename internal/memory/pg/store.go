// Package pg implements Postgres-backed memory on pgvector and pgmq. Tables
// are suffixed with the embedding dimension so switching embedding models
// starts a fresh table family instead of corrupting the old one. Every write
// enqueues an embedding job in the same transaction as its row; a background
// worker fills the embedding column later.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/engramhq/engram/internal/memory"
)

// embedQueue is the pgmq queue carrying embedding jobs from writers to the
// worker.
const embedQueue = "memory_embedding"

// Postgres error code for unique_violation.
const uniqueViolationCode = "23505"

// Embedder produces fixed-dimension embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// embedJob is the pgmq message payload. The worker uses table and id to
// locate the row, content as the embedding input, and dimensions to decide
// whether the job belongs to its table family.
type embedJob struct {
	Table      string `json:"table"`
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	Dimensions int    `json:"dimensions"`
}

// Config carries the store settings. Zero values fall back to the defaults
// the rest of the system assumes (1536 dims, 2-10 conns, 10 search results).
type Config struct {
	DSN                 string
	Dimensions          int
	PoolMinSize         int
	PoolMaxSize         int
	SemanticSearchLimit int
}

func (c *Config) applyDefaults() {
	if c.Dimensions <= 0 {
		c.Dimensions = 1536
	}
	if c.PoolMinSize <= 0 {
		c.PoolMinSize = 2
	}
	if c.PoolMaxSize <= 0 {
		c.PoolMaxSize = 10
	}
	if c.SemanticSearchLimit <= 0 {
		c.SemanticSearchLimit = 10
	}
}

// Store is the Postgres memory backend.
type Store struct {
	cfg    Config
	tables tableSet
	pool   *pgxpool.Pool

	mu       sync.RWMutex
	embedder Embedder
}

var (
	_ memory.Backend          = (*Store)(nil)
	_ memory.SemanticSearcher = (*Store)(nil)
)

func NewStore(cfg Config) *Store {
	cfg.applyDefaults()
	return &Store{
		cfg:    cfg,
		tables: tablesFor(cfg.Dimensions),
	}
}

// SetEmbedder attaches the embedding service used for semantic retrieval.
// Without one, MemoryContextSemantic degrades to MemoryContext.
func (s *Store) SetEmbedder(e Embedder) {
	s.mu.Lock()
	s.embedder = e
	s.mu.Unlock()
}

func (s *Store) getEmbedder() Embedder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedder
}

// Initialize connects the pool and ensures the schema and the embedding
// queue exist for the configured dimension.
func (s *Store) Initialize(ctx context.Context) error {
	pcfg, err := pgxpool.ParseConfig(s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MinConns = int32(s.cfg.PoolMinSize)
	pcfg.MaxConns = int32(s.cfg.PoolMaxSize)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	for _, stmt := range schemaStatements(s.cfg.Dimensions) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return fmt.Errorf("ensure memory schema: %w", err)
		}
	}
	if _, err := pool.Exec(ctx, "SELECT pgmq.create($1)", embedQueue); err != nil {
		pool.Close()
		return fmt.Errorf("ensure embedding queue: %w", err)
	}

	s.pool = pool
	slog.Info("postgres memory store initialized", "dimensions", s.cfg.Dimensions)
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

// ReadToday returns today's entries in insertion order, newline-joined.
func (s *Store) ReadToday(ctx context.Context) (string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT content FROM "+s.tables.daily+" WHERE entry_date = CURRENT_DATE ORDER BY id")
	if err != nil {
		return "", fmt.Errorf("read today: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", fmt.Errorf("read today: %w", err)
		}
		lines = append(lines, content)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read today: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// AppendToday inserts a daily entry and enqueues its embedding job in one
// transaction.
func (s *Store) AppendToday(ctx context.Context, content string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append today: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		"INSERT INTO "+s.tables.daily+" (content) VALUES ($1) RETURNING id", content).Scan(&id)
	if err != nil {
		return fmt.Errorf("append today: %w", err)
	}
	if err := enqueueEmbedding(ctx, tx, embedJob{
		Table:      s.tables.daily,
		ID:         id,
		Content:    content,
		Dimensions: s.cfg.Dimensions,
	}); err != nil {
		return fmt.Errorf("append today: %w", err)
	}
	return tx.Commit(ctx)
}

// ReadLongTerm returns the content of the highest-version row, or "".
func (s *Store) ReadLongTerm(ctx context.Context) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		"SELECT content FROM "+s.tables.longTerm+" ORDER BY version DESC LIMIT 1").Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read long-term: %w", err)
	}
	return content, nil
}

// WriteLongTerm inserts a new version of the long-term memory. Versions come
// from MAX(version)+1; if two writers race to the same version the unique
// index rejects the loser, which recomputes and retries once.
func (s *Store) WriteLongTerm(ctx context.Context, content string) error {
	err := s.writeLongTermOnce(ctx, content)
	if isUniqueViolation(err) {
		err = s.writeLongTermOnce(ctx, content)
	}
	if err != nil {
		return fmt.Errorf("write long-term: %w", err)
	}
	return nil
}

func (s *Store) writeLongTermOnce(ctx context.Context, content string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM "+s.tables.longTerm).Scan(&version)
	if err != nil {
		return err
	}
	var id int64
	err = tx.QueryRow(ctx,
		"INSERT INTO "+s.tables.longTerm+" (content, version) VALUES ($1, $2) RETURNING id",
		content, version).Scan(&id)
	if err != nil {
		return err
	}
	if err := enqueueEmbedding(ctx, tx, embedJob{
		Table:      s.tables.longTerm,
		ID:         id,
		Content:    content,
		Dimensions: s.cfg.Dimensions,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecentMemories returns the last days of entries grouped under day headers,
// newest day first. days == 1 covers today only; days <= 0 returns "".
func (s *Store) RecentMemories(ctx context.Context, days int) (string, error) {
	if days <= 0 {
		return "", nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT entry_date, content FROM "+s.tables.daily+
			" WHERE entry_date > CURRENT_DATE - $1::int ORDER BY entry_date DESC, id", days)
	if err != nil {
		return "", fmt.Errorf("recent memories: %w", err)
	}
	defer rows.Close()

	var parts []string
	var day string
	var lines []string
	flush := func() {
		if day != "" {
			parts = append(parts, memory.DayHeader(day)+strings.Join(lines, "\n"))
		}
	}
	for rows.Next() {
		var entryDate time.Time
		var content string
		if err := rows.Scan(&entryDate, &content); err != nil {
			return "", fmt.Errorf("recent memories: %w", err)
		}
		stamp := memory.DayStamp(entryDate)
		if stamp != day {
			flush()
			day = stamp
			lines = lines[:0]
		}
		lines = append(lines, content)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("recent memories: %w", err)
	}
	flush()
	return strings.Join(parts, memory.RecentSeparator), nil
}

// MemoryContext composes long-term memory and today's notes without
// retrieval, same shape as the file backend.
func (s *Store) MemoryContext(ctx context.Context) (string, error) {
	longTerm, err := s.ReadLongTerm(ctx)
	if err != nil {
		return "", err
	}
	today, err := s.ReadToday(ctx)
	if err != nil {
		return "", err
	}
	return memory.ComposeContext(longTerm, today), nil
}

// SearchResult is one row returned by the installed search function.
type SearchResult struct {
	Source     string
	SourceID   int64
	Content    string
	EntryDate  string // "YYYY-MM-DD", empty for long-term rows
	Similarity float64
}

// SemanticSearch runs the ANN search function over all three memory tables.
// limit <= 0 uses the configured default; the similarity threshold is the
// function's default (0.3).
func (s *Store) SemanticSearch(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = s.cfg.SemanticSearchLimit
	}
	rows, err := s.pool.Query(ctx,
		"SELECT source, source_id, content, entry_date, similarity FROM "+s.tables.searchFunc+"($1::vector, $2)",
		pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var entryDate *time.Time
		if err := rows.Scan(&r.Source, &r.SourceID, &r.Content, &entryDate, &r.Similarity); err != nil {
			return nil, fmt.Errorf("semantic search: %w", err)
		}
		if entryDate != nil {
			r.EntryDate = memory.DayStamp(*entryDate)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	return results, nil
}

// MemoryContextSemantic assembles context around the query using vector
// retrieval. It falls back to the plain composition when no embedder is
// attached, embedding or search fails, or nothing matches.
func (s *Store) MemoryContextSemantic(ctx context.Context, query string) (string, error) {
	emb := s.getEmbedder()
	if emb == nil {
		return s.MemoryContext(ctx)
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		slog.Warn("semantic search failed, falling back", "error", err)
		return s.MemoryContext(ctx)
	}
	results, err := s.SemanticSearch(ctx, vec, 0)
	if err != nil {
		slog.Warn("semantic search failed, falling back", "error", err)
		return s.MemoryContext(ctx)
	}
	if len(results) == 0 {
		return s.MemoryContext(ctx)
	}

	var parts []string
	longTerm, err := s.ReadLongTerm(ctx)
	if err != nil {
		return "", err
	}
	if longTerm != "" {
		parts = append(parts, memory.LongTermHeader+longTerm)
	}

	parts = append(parts, semanticSection(results))

	today, err := s.ReadToday(ctx)
	if err != nil {
		return "", err
	}
	if today != "" {
		parts = append(parts, memory.TodayHeader+today)
	}
	return strings.Join(parts, "\n\n"), nil
}

// semanticSection renders search results as a bulleted context section.
func semanticSection(results []SearchResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		dateInfo := ""
		if r.EntryDate != "" {
			dateInfo = " (" + r.EntryDate + ")"
		}
		lines = append(lines, fmt.Sprintf("- [%s%s sim=%.2f] %s", r.Source, dateInfo, r.Similarity, r.Content))
	}
	return "## Relevant Memories (semantic)\n" + strings.Join(lines, "\n")
}

// enqueueEmbedding sends one job to the embedding queue on the caller's
// transaction so the row and its job commit or abort together.
func enqueueEmbedding(ctx context.Context, tx pgx.Tx, job embedJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal embedding job: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pgmq.send($1, $2::jsonb)", embedQueue, payload); err != nil {
		return fmt.Errorf("enqueue embedding job: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
