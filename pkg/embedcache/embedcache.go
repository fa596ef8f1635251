// Package embedcache keeps computed embedding vectors so that restarts do not
// re-embed the category exemplars and the knowledge corpus.
//
// [Provider] decorates any [embeddings.Provider]. Vectors are keyed by the
// provider's model identity and the xxhash of the input text:
//
//	cached := embedcache.New(ollamaProvider, embedcache.NewMemoryStore())
//	vecs, err := cached.EmbedBatch(ctx, texts) // only misses reach ollama
//
// The postgres subpackage provides a persistent [Store] on pgvector.
package embedcache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
	"github.com/MrWong99/helpdesk/pkg/types"
)

// Store persists vectors per model. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the stored vectors for the given keys. Missing keys are
	// absent from the map.
	Get(ctx context.Context, model string, keys []string) (map[string][]float32, error)

	// Put stores vectors, replacing existing entries with the same key.
	Put(ctx context.Context, model string, vectors map[string][]float32) error
}

// Key returns the cache key of text.
func Key(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// Space returns the cache namespace of p. Vectors are only shared between
// providers with the same model and dimensionality.
func Space(p embeddings.Provider) string {
	return p.ModelID() + "/" + strconv.Itoa(p.Dimensions())
}

// DefaultMemoryEntries is the per-model capacity of a [MemoryStore].
const DefaultMemoryEntries = 16384

// MemoryStore is an in-process [Store]. Each model keeps at most a fixed
// number of vectors; the least recently used are evicted first.
type MemoryStore struct {
	mu      sync.Mutex
	size    int
	vectors map[string]*lru.Cache[string, []float32]
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithMaxEntries caps the vectors kept per model. Values below 1 select
// [DefaultMemoryEntries].
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.size = n
		}
	}
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{size: DefaultMemoryEntries, vectors: make(map[string]*lru.Cache[string, []float32])}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) cache(model string, create bool) *lru.Cache[string, []float32] {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.vectors[model]
	if !ok && create {
		// size is always positive, so New cannot fail.
		c, _ = lru.New[string, []float32](s.size)
		s.vectors[model] = c
	}
	return c
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, model string, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	c := s.cache(model, false)
	if c == nil {
		return out, nil
	}
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			out[k] = append([]float32(nil), v...)
		}
	}
	return out, nil
}

// Put implements [Store].
func (s *MemoryStore) Put(_ context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	c := s.cache(model, true)
	for k, v := range vectors {
		c.Add(k, append([]float32(nil), v...))
	}
	return nil
}

// Len returns the number of vectors stored for model.
func (s *MemoryStore) Len(model string) int {
	if c := s.cache(model, false); c != nil {
		return c.Len()
	}
	return 0
}

// Provider is an [embeddings.Provider] that serves repeated texts from a
// [Store]. Store failures are logged and treated as misses; they never fail
// an embedding call.
type Provider struct {
	inner embeddings.Provider
	store Store
	space string

	hits   atomic.Int64
	misses atomic.Int64
}

var _ embeddings.Provider = (*Provider)(nil)

// New wraps inner with store.
func New(inner embeddings.Provider, store Store) *Provider {
	return &Provider{inner: inner, store: store, space: Space(inner)}
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements [embeddings.Provider]. Only texts missing from the
// store are sent to the wrapped provider, in one batch and without
// duplicates.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(t)
	}

	cached, err := p.store.Get(ctx, p.space, keys)
	if err != nil {
		slog.Warn("embedcache: lookup failed, embedding everything", "space", p.space, "err", err)
		cached = nil
	}

	var (
		missTexts []string
		missKeys  []string
		seen      = make(map[string]bool)
	)
	for i, k := range keys {
		if _, ok := cached[k]; ok || seen[k] {
			continue
		}
		seen[k] = true
		missTexts = append(missTexts, texts[i])
		missKeys = append(missKeys, k)
	}
	p.hits.Add(int64(len(texts) - len(missTexts)))
	p.misses.Add(int64(len(missTexts)))

	fresh := make(map[string][]float32, len(missTexts))
	if len(missTexts) > 0 {
		vecs, err := p.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, fmt.Errorf("embedcache: %w: provider returned %d vectors for %d texts",
				types.ErrEmbeddingUnavailable, len(vecs), len(missTexts))
		}
		for i, k := range missKeys {
			fresh[k] = vecs[i]
		}
		if err := p.store.Put(ctx, p.space, fresh); err != nil {
			slog.Warn("embedcache: store failed", "space", p.space, "err", err)
		}
	}

	out := make([][]float32, len(texts))
	for i, k := range keys {
		if v, ok := cached[k]; ok {
			out[i] = v
		} else {
			out[i] = fresh[k]
		}
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int { return p.inner.Dimensions() }

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.inner.ModelID() }

// Stats returns the number of texts served from the store and embedded
// fresh since creation.
func (p *Provider) Stats() (hits, misses int64) { return p.hits.Load(), p.misses.Load() }
