package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/helpdesk/pkg/provider/embeddings/ollama"
)

type seenRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive"`
}

// embedServer answers /api/embed with one vector per input, [len(text), i].
// Each decoded request is sent on the returned channel when it is non-nil.
func embedServer(t *testing.T, seen chan<- seenRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req seenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if seen != nil {
			seen <- req
		}
		vecs := make([][]float32, len(req.Input))
		for i, in := range req.Input {
			vecs[i] = []float32{float32(len(in)), float32(i)}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": vecs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
	p, err := ollama.New("", "all-minilm")
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != "all-minilm" {
		t.Errorf("ModelID() = %q", p.ModelID())
	}
}

func TestEmbedBatch_RequestShape(t *testing.T) {
	t.Parallel()

	seen := make(chan seenRequest, 1)
	srv := embedServer(t, seen)
	p, err := ollama.New(srv.URL+"/", "all-minilm", ollama.WithKeepAlive(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.EmbedBatch(context.Background(), []string{"vpn", "outlook"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 2 || got[1][0] != 7 || got[1][1] != 1 {
		t.Errorf("EmbedBatch = %v", got)
	}

	req := <-seen
	if req.Model != "all-minilm" || !req.Truncate || req.KeepAlive != "30m0s" {
		t.Errorf("request = %+v", req)
	}
}

func TestEmbedBatch_Windows(t *testing.T) {
	t.Parallel()

	seen := make(chan seenRequest, 8)
	p, _ := ollama.New(embedServer(t, seen).URL, "all-minilm", ollama.WithBatchSize(2))

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	got, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(seen) != 3 {
		t.Errorf("requests = %d, want 3", len(seen))
	}
	for i, v := range got {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("got[%d] = %v, want vector of %q", i, v, texts[i])
		}
	}
}

func TestDimensions_LearnedFromEmbed(t *testing.T) {
	t.Parallel()

	seen := make(chan seenRequest, 4)
	p, _ := ollama.New(embedServer(t, seen).URL, "custom-model")
	if _, err := p.Embed(context.Background(), "vpn"); err != nil {
		t.Fatal(err)
	}
	if got := p.Dimensions(); got != 2 {
		t.Errorf("Dimensions() = %d, want 2", got)
	}
	if len(seen) != 1 {
		t.Errorf("requests = %d, want only the embed call", len(seen))
	}
}

func TestEmbed_Single(t *testing.T) {
	t.Parallel()

	p, _ := ollama.New(embedServer(t, nil).URL, "all-minilm")
	v, err := p.Embed(context.Background(), "printer")
	if err != nil {
		t.Fatal(err)
	}
	if v[0] != 7 {
		t.Errorf("Embed = %v", v)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()

	p, _ := ollama.New("http://127.0.0.1:1", "all-minilm")
	got, err := p.EmbedBatch(context.Background(), nil)
	if got != nil || err != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v", got, err)
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"all-minilm", 384},
		{"all-minilm:l6-v2", 384},
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"bge-m3:latest", 1024},
	}
	for _, tt := range tests {
		p, _ := ollama.New("http://127.0.0.1:1", tt.model)
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("Dimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}

	p, _ := ollama.New("http://127.0.0.1:1", "custom", ollama.WithDimensions(42))
	if p.Dimensions() != 42 {
		t.Errorf("WithDimensions: got %d", p.Dimensions())
	}
	p, _ = ollama.New("http://127.0.0.1:1", "all-minilm", ollama.WithDimensions(0))
	if p.Dimensions() != 384 {
		t.Errorf("WithDimensions(0) overrode the known size: got %d", p.Dimensions())
	}
}

func TestDimensions_AutoDetect(t *testing.T) {
	t.Parallel()

	seen := make(chan seenRequest, 4)
	p, _ := ollama.New(embedServer(t, seen).URL, "custom-model")
	if got := p.Dimensions(); got != 2 {
		t.Fatalf("Dimensions() = %d, want 2", got)
	}
	_ = p.Dimensions()
	if len(seen) != 1 {
		t.Errorf("probe issued %d times, want 1", len(seen))
	}
	if p.DetectErr() != nil {
		t.Errorf("DetectErr() = %v", p.DetectErr())
	}
}

func TestEmbed_ServerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantSub string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			},
			wantSub: "ollama pull all-minilm",
		},
		{
			name: "malformed",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
			wantSub: "decode response",
		},
		{
			name: "count mismatch",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"embeddings":[]}`))
			},
			wantSub: "expected 1 embeddings",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)
			p, _ := ollama.New(srv.URL, "all-minilm")
			_, err := p.Embed(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestEmbed_ContextCancelled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	p, _ := ollama.New(srv.URL, "all-minilm")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "x"); err == nil {
		t.Fatal("expected error on deadline")
	}
}
