package pg

import (
	"fmt"
	"strconv"
)

// tableSet holds the dimension-suffixed object names for one embedding model
// family. Switching embedding dimensions creates a fresh family; data written
// under the old dimension stays in its own tables.
type tableSet struct {
	daily        string
	longTerm     string
	conversation string
	searchFunc   string
}

func tablesFor(dimensions int) tableSet {
	suffix := strconv.Itoa(dimensions)
	return tableSet{
		daily:        "memory_daily_dim" + suffix,
		longTerm:     "memory_long_term_dim" + suffix,
		conversation: "memory_conversation_dim" + suffix,
		searchFunc:   "memory_search_dim" + suffix,
	}
}

// contains reports whether name is one of the family's tables.
func (t tableSet) contains(name string) bool {
	return name == t.daily || name == t.longTerm || name == t.conversation
}

// schemaStatements renders the idempotent DDL for one dimension family.
// Initialize runs these in order on every start.
func schemaStatements(dimensions int) []string {
	t := tablesFor(dimensions)
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          BIGSERIAL PRIMARY KEY,
				entry_date  DATE NOT NULL DEFAULT CURRENT_DATE,
				content     TEXT NOT NULL,
				embedding   vector(%d),
				created_at  TIMESTAMPTZ DEFAULT now(),
				updated_at  TIMESTAMPTZ DEFAULT now()
			)`, t.daily, dimensions),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_date
				ON %s (entry_date DESC)`, t.daily, t.daily),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_embedding
				ON %s USING hnsw (embedding vector_cosine_ops)
				WITH (m=16, ef_construction=64)`, t.daily, t.daily),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          BIGSERIAL PRIMARY KEY,
				content     TEXT NOT NULL,
				embedding   vector(%d),
				version     INT NOT NULL DEFAULT 1,
				created_at  TIMESTAMPTZ DEFAULT now(),
				updated_at  TIMESTAMPTZ DEFAULT now()
			)`, t.longTerm, dimensions),
		// Unique version backs the insert retry in WriteLongTerm: concurrent
		// writers racing to the same version fail here instead of colliding.
		fmt.Sprintf(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_version
				ON %s (version)`, t.longTerm, t.longTerm),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_embedding
				ON %s USING hnsw (embedding vector_cosine_ops)
				WITH (m=16, ef_construction=64)`, t.longTerm, t.longTerm),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id            BIGSERIAL PRIMARY KEY,
				session_key   TEXT NOT NULL,
				role          TEXT NOT NULL,
				content       TEXT NOT NULL,
				embedding     vector(%d),
				created_at    TIMESTAMPTZ DEFAULT now(),
				updated_at    TIMESTAMPTZ DEFAULT now()
			)`, t.conversation, dimensions),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_session
				ON %s (session_key, created_at DESC)`, t.conversation, t.conversation),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_embedding
				ON %s USING hnsw (embedding vector_cosine_ops)
				WITH (m=16, ef_construction=64)`, t.conversation, t.conversation),
		searchFunction(dimensions, t),
	}
}

// searchFunction renders the plpgsql search function for one dimension
// family. It fans one ANN probe out over the three memory tables, keeps rows
// at or above the similarity threshold, and returns the best matches overall.
// Similarity is cosine (1 - distance); conversation rows are rendered as
// "role: content" and dated by their created_at day, long-term rows carry no
// date.
func searchFunction(dimensions int, t tableSet) string {
	return fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s(
			query_embedding vector(%d),
			match_limit INT DEFAULT 10,
			similarity_threshold FLOAT DEFAULT 0.3
		) RETURNS TABLE (
			source TEXT,
			source_id BIGINT,
			content TEXT,
			entry_date DATE,
			similarity FLOAT
		)
		LANGUAGE plpgsql AS $$
		BEGIN
			RETURN QUERY
			SELECT * FROM (
				(SELECT
					'daily'::TEXT AS source,
					d.id AS source_id,
					d.content,
					d.entry_date,
					(1 - (d.embedding <=> query_embedding))::FLOAT AS similarity
				FROM %s d
				WHERE d.embedding IS NOT NULL
				ORDER BY d.embedding <=> query_embedding
				LIMIT match_limit)
				UNION ALL
				(SELECT
					'long_term'::TEXT AS source,
					lt.id AS source_id,
					lt.content,
					NULL::DATE AS entry_date,
					(1 - (lt.embedding <=> query_embedding))::FLOAT AS similarity
				FROM %s lt
				WHERE lt.embedding IS NOT NULL
				ORDER BY lt.embedding <=> query_embedding
				LIMIT match_limit)
				UNION ALL
				(SELECT
					'conversation'::TEXT AS source,
					c.id AS source_id,
					c.role || ': ' || c.content,
					c.created_at::DATE AS entry_date,
					(1 - (c.embedding <=> query_embedding))::FLOAT AS similarity
				FROM %s c
				WHERE c.embedding IS NOT NULL
				ORDER BY c.embedding <=> query_embedding
				LIMIT match_limit)
			) combined
			WHERE combined.similarity >= similarity_threshold
			ORDER BY combined.similarity DESC
			LIMIT match_limit;
		END;
		$$`, t.searchFunc, dimensions, t.daily, t.longTerm, t.conversation)
}
