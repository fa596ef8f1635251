// Package ollama provides an embeddings provider backed by a local Ollama server.
//
// It calls Ollama's native /api/embed endpoint. The default help desk
// configuration uses all-minilm, the Ollama build of the sentence-transformers
// all-MiniLM-L6-v2 model.
//
//	p, err := ollama.New("", "all-minilm") // http://localhost:11434
//	vec, err := p.Embed(ctx, "my vpn keeps disconnecting")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// DefaultBatchSize is the number of texts sent per /api/embed request.
const DefaultBatchSize = 64

// probeTimeout bounds the request Dimensions issues for unknown models.
const probeTimeout = 30 * time.Second

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
//
// The vector size comes from WithDimensions, else the known-model table, else
// the first response the server sends. Dimensions probes the server only when
// none of these is available yet.
//
// Provider is safe for concurrent use.
type Provider struct {
	endpoint  string
	model     string
	keepAlive string
	batchSize int
	client    *http.Client

	dims     atomic.Int64
	probeMu  sync.Mutex
	probeErr error
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout; callers
// normally bound requests through the context instead.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = max(d, 0) }
}

// WithDimensions pre-sets the embedding dimension and skips the probe request.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		if dims > 0 {
			p.dims.Store(int64(dims))
		}
	}
}

// WithKeepAlive asks Ollama to keep the model loaded for d after each request.
// The server default (five minutes) causes a cold load on the first request
// after an idle period, which easily exceeds a help desk request timeout.
func WithKeepAlive(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.keepAlive = d.String()
		}
	}
}

// WithBatchSize caps the number of texts per request. Index builds embed the
// whole knowledge corpus in one EmbedBatch call, which is split into windows
// of n texts. Values below 1 select [DefaultBatchSize].
func WithBatchSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// New constructs a new Ollama Provider. An empty baseURL selects
// DefaultBaseURL. model must not be empty.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Provider{
		endpoint:  strings.TrimRight(baseURL, "/") + "/api/embed",
		model:     model,
		batchSize: DefaultBatchSize,
		client:    &http.Client{},
	}
	p.dims.Store(int64(knownDimensions(model)))
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. Texts are sent in windows of
// the configured batch size; results keep the input order. An empty texts
// slice returns (nil, nil) without a network call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		vecs, err := p.post(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("ollama embeddings: embed batch [%d:%d] of %d: %w", start, end, len(texts), err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider. For models of unknown size that
// have not embedded anything yet, one probe request is made; if it fails, 0
// is returned and the error is available from DetectErr. A failed probe is
// retried on the next call.
func (p *Provider) Dimensions() int {
	if d := p.dims.Load(); d > 0 {
		return int(d)
	}
	p.probeMu.Lock()
	defer p.probeMu.Unlock()
	if d := p.dims.Load(); d > 0 {
		return int(d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	_, p.probeErr = p.post(ctx, []string{"printer offline"})
	return int(p.dims.Load())
}

// DetectErr returns the error of the last failed dimension probe, if any.
func (p *Provider) DetectErr() error {
	p.probeMu.Lock()
	defer p.probeMu.Unlock()
	return p.probeErr
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// post sends one /api/embed request and learns the vector size from the reply.
func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: p.model, Input: texts, Truncate: true, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("model %q unavailable (run `ollama pull %s`): %s", p.model, p.model, readMessage(resp.Body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, readMessage(resp.Body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(er.Embeddings))
	}
	if n := len(er.Embeddings[0]); n > 0 {
		p.dims.CompareAndSwap(0, int64(n))
	}
	return er.Embeddings, nil
}

func readMessage(r io.Reader) string {
	msg, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(msg))
}

// knownDimensions returns the output size of common Ollama embedding models,
// or 0 when the model is not recognised.
func knownDimensions(model string) int {
	name, _, _ := strings.Cut(strings.ToLower(model), ":")
	switch name {
	case "all-minilm", "paraphrase-multilingual":
		return 384
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large", "bge-m3", "bge-large", "snowflake-arctic-embed":
		return 1024
	default:
		return 0
	}
}
