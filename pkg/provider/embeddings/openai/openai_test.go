package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestModelDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tt := range tests {
		if got := modelDimensions(tt.model); got != tt.want {
			t.Errorf("modelDimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestShortenedVectors(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "text-embedding-3-large", WithDimensions(256))
	if err != nil {
		t.Fatal(err)
	}
	if p.Dimensions() != 256 {
		t.Errorf("Dimensions() = %d, want 256", p.Dimensions())
	}
	if p.ModelID() != "text-embedding-3-large@256" {
		t.Errorf("ModelID() = %q", p.ModelID())
	}
	if _, err := New("sk-test", "", WithDimensions(-1)); err == nil {
		t.Error("negative dimensions accepted")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for empty API key")
	}
	p, err := New("sk-test", "", WithOrganization("org-123"))
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID() = %q, want %q", p.ModelID(), DefaultModel)
	}
}

// embeddingsServer answers every request with one vector per input, returned
// in reverse order so index handling is exercised.
func embeddingsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type datum struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]datum, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, datum{Object: "embedding", Index: i, Embedding: []float64{float64(len(req.Input[i])), float64(i)}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-3-small",
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatch_ReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := embeddingsServer(t)
	p, err := New("sk-test", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	want := [][]float32{{1, 0}, {3, 1}, {2, 2}}
	for i := range want {
		if got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Errorf("vector %d = %v, want %v", i, got[i], want[i])
		}
	}

	single, err := p.Embed(context.Background(), "four")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if single[0] != 4 {
		t.Errorf("Embed = %v", single)
	}

	if v, err := p.EmbedBatch(context.Background(), nil); v != nil || err != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v", v, err)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("sk-test", "", WithBaseURL(srv.URL))
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error from 401")
	}
}

func TestToFloat32(t *testing.T) {
	t.Parallel()

	out := toFloat32([]float64{1.0, 2.5, -0.5})
	if len(out) != 3 || out[1] != 2.5 || out[2] != -0.5 {
		t.Errorf("toFloat32 = %v", out)
	}
}
