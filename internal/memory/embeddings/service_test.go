package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

func newTestService(t *testing.T, dims int, handler http.HandlerFunc) (*Service, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	svc, err := NewService(Config{
		Model:      "text-embedding-3-small",
		Dimensions: dims,
		BaseURL:    srv.URL + "/v1",
		APIKey:     "test-key",
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, &calls
}

// TestNewService_Validation verifies required configuration fields.
func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(Config{Dimensions: 4}); err == nil {
		t.Error("NewService without model succeeded, want error")
	}
	if _, err := NewService(Config{Model: "m"}); err == nil {
		t.Error("NewService without dimensions succeeded, want error")
	}
}

// TestEmbedBatch_EmptyInput verifies the no-network short circuit.
func TestEmbedBatch_EmptyInput(t *testing.T) {
	svc, calls := newTestService(t, 3, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server handled a request for empty input")
	})

	got, err := svc.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("EmbedBatch(nil) = %v, want empty", got)
	}
	if calls.Load() != 0 {
		t.Errorf("server saw %d calls, want 0", calls.Load())
	}
}

// TestEmbedBatch_PreservesInputOrder verifies out-of-order response entries
// are mapped back by index.
func TestEmbedBatch_PreservesInputOrder(t *testing.T) {
	svc, _ := newTestService(t, 3, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"object": "list",
			"data": []embeddingData{
				{Index: 1, Embedding: []float32{2, 2, 2}},
				{Index: 0, Embedding: []float32{1, 1, 1}},
			},
			"model": "text-embedding-3-small",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	got, err := svc.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("EmbedBatch returned %d vectors, want 2", len(got))
	}
	if got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("vectors not reordered by index: %v", got)
	}
}

// TestEmbed_SingleText verifies the single-input wrapper.
func TestEmbed_SingleText(t *testing.T) {
	svc, _ := newTestService(t, 3, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 1 || req.Input[0] != "hello" {
			t.Errorf("request input = %v, want [hello]", req.Input)
		}
		if req.Dimensions != 3 {
			t.Errorf("request dimensions = %d, want 3", req.Dimensions)
		}

		resp := map[string]interface{}{
			"object": "list",
			"data":   []embeddingData{{Index: 0, Embedding: []float32{0.1, 0.2, 0.3}}},
			"model":  "text-embedding-3-small",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	vec, err := svc.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("Embed returned %d dims, want 3", len(vec))
	}
}

// TestEmbedBatch_DimensionMismatch verifies a model returning the wrong
// width is rejected.
func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	svc, _ := newTestService(t, 3, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"object": "list",
			"data":   []embeddingData{{Index: 0, Embedding: []float32{1, 2}}},
			"model":  "text-embedding-3-small",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	if _, err := svc.Embed(context.Background(), "hello"); err == nil {
		t.Error("Embed accepted a wrong-width vector, want error")
	}
}

// TestEmbedBatch_ServerError verifies HTTP failures surface as errors.
func TestEmbedBatch_ServerError(t *testing.T) {
	svc, _ := newTestService(t, 3, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	})

	if _, err := svc.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Error("EmbedBatch succeeded against a 500 response, want error")
	}
}
