package pg

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

type stubEmbedder struct {
	dims   int
	vec    []float32
	err    error
	inputs []string
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.inputs = append(s.inputs, text)
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }

type recordingExecer struct {
	sql  []string
	args [][]any
	err  error
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, args)
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

// TestWorkerHandle_EmbedsAndUpdatesRow verifies the happy path: the job's
// content is embedded, the vector lands on the job's row, and the message is
// archived.
func TestWorkerHandle_EmbedsAndUpdatesRow(t *testing.T) {
	emb := &stubEmbedder{dims: 3, vec: []float32{0.1, 0.2, 0.3}}
	db := &recordingExecer{}
	w := NewWorker("postgres://localhost/test", 0, emb)

	payload := []byte(`{"table":"memory_daily_dim3","id":7,"content":"note text","dimensions":3}`)
	if got := w.handle(context.Background(), db, payload); got != msgArchive {
		t.Fatalf("handle = %v, want msgArchive", got)
	}

	if len(emb.inputs) != 1 || emb.inputs[0] != "note text" {
		t.Errorf("embedded inputs = %v, want [note text]", emb.inputs)
	}
	if len(db.sql) != 1 {
		t.Fatalf("exec count = %d, want 1", len(db.sql))
	}
	if !strings.HasPrefix(db.sql[0], "UPDATE memory_daily_dim3 SET embedding") {
		t.Errorf("unexpected update sql %q", db.sql[0])
	}
	wantVec := pgvector.NewVector([]float32{0.1, 0.2, 0.3})
	if !reflect.DeepEqual(db.args[0][0], wantVec) {
		t.Errorf("update vector arg = %v, want %v", db.args[0][0], wantVec)
	}
	if db.args[0][1] != int64(7) {
		t.Errorf("update id arg = %v, want 7", db.args[0][1])
	}
}

// TestWorkerHandle_SkipsOtherDimensionFamily verifies that a job enqueued
// under a different dimension is left in the queue untouched.
func TestWorkerHandle_SkipsOtherDimensionFamily(t *testing.T) {
	emb := &stubEmbedder{dims: 3, vec: []float32{1, 2, 3}}
	db := &recordingExecer{}
	w := NewWorker("postgres://localhost/test", 0, emb)

	payload := []byte(`{"table":"memory_daily_dim1536","id":1,"content":"x","dimensions":1536}`)
	if got := w.handle(context.Background(), db, payload); got != msgSkip {
		t.Fatalf("handle = %v, want msgSkip", got)
	}
	if len(emb.inputs) != 0 {
		t.Errorf("embedder called %d times for foreign job", len(emb.inputs))
	}
	if len(db.sql) != 0 {
		t.Errorf("exec called %d times for foreign job", len(db.sql))
	}
}

// TestWorkerHandle_DiscardsUnusableJobs verifies that jobs that can never be
// processed are archived instead of cycling through the queue forever.
func TestWorkerHandle_DiscardsUnusableJobs(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"table":"memory_daily_dim3",`},
		{"unknown table", `{"table":"sessions","id":1,"content":"x","dimensions":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &stubEmbedder{dims: 3, vec: []float32{1, 2, 3}}
			db := &recordingExecer{}
			w := NewWorker("postgres://localhost/test", 0, emb)

			if got := w.handle(context.Background(), db, []byte(tt.payload)); got != msgArchive {
				t.Fatalf("handle = %v, want msgArchive", got)
			}
			if len(emb.inputs) != 0 {
				t.Errorf("embedder called for unusable job")
			}
			if len(db.sql) != 0 {
				t.Errorf("exec called for unusable job")
			}
		})
	}
}

// TestWorkerHandle_RetriesTransientFailures verifies that embed and update
// failures leave the message unarchived so the visibility timeout retries it.
func TestWorkerHandle_RetriesTransientFailures(t *testing.T) {
	payload := []byte(`{"table":"memory_long_term_dim3","id":2,"content":"y","dimensions":3}`)

	t.Run("embed error", func(t *testing.T) {
		emb := &stubEmbedder{dims: 3, err: errors.New("api down")}
		db := &recordingExecer{}
		w := NewWorker("postgres://localhost/test", 0, emb)

		if got := w.handle(context.Background(), db, payload); got != msgRetry {
			t.Fatalf("handle = %v, want msgRetry", got)
		}
		if len(db.sql) != 0 {
			t.Errorf("exec called after embed failure")
		}
	})

	t.Run("update error", func(t *testing.T) {
		emb := &stubEmbedder{dims: 3, vec: []float32{1, 2, 3}}
		db := &recordingExecer{err: errors.New("connection reset")}
		w := NewWorker("postgres://localhost/test", 0, emb)

		if got := w.handle(context.Background(), db, payload); got != msgRetry {
			t.Fatalf("handle = %v, want msgRetry", got)
		}
	})
}
