// Package retrieve ranks knowledge chunks by vector similarity to a request.
//
// Chunks are embedded once when the Retriever is built; chunks with blank text
// are skipped. A retrieval returns at most k chunks whose similarity clears
// the configured floor, ordered by score descending with ties broken by
// ascending chunk ID. An empty result is a valid answer meaning "nothing
// relevant is known".
package retrieve

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/internal/knowledge"
	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
	"github.com/MrWong99/helpdesk/pkg/types"
	"github.com/MrWong99/helpdesk/pkg/vectorindex"
)

// DefaultSimilarityFloor drops hits that are barely related to the request.
const DefaultSimilarityFloor = 0.2

// Retriever is immutable after New and safe for concurrent use.
type Retriever struct {
	provider embeddings.Provider
	index    *vectorindex.Index
	floor    float64
	metric   vectorindex.Metric
	table    *category.Table
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithSimilarityFloor sets the minimum score a hit needs to be returned.
func WithSimilarityFloor(v float64) Option {
	return func(r *Retriever) { r.floor = v }
}

// WithMetric selects the index metric. The default is cosine.
func WithMetric(m vectorindex.Metric) Option {
	return func(r *Retriever) { r.metric = m }
}

// WithCategories enables [Retriever.RetrieveForCategory].
func WithCategories(t *category.Table) Option {
	return func(r *Retriever) { r.table = t }
}

// New embeds every non-blank chunk in one batch and builds the knowledge
// index. An empty corpus yields a Retriever that always returns no results.
func New(ctx context.Context, provider embeddings.Provider, chunks []types.KnowledgeChunk, opts ...Option) (*Retriever, error) {
	r := &Retriever{
		provider: provider,
		floor:    DefaultSimilarityFloor,
		metric:   vectorindex.Cosine,
	}
	for _, o := range opts {
		o(r)
	}

	indexable := knowledge.Indexable(chunks)
	if skipped := len(chunks) - len(indexable); skipped > 0 {
		slog.Debug("retrieve: skipped blank chunks", "count", skipped)
	}

	var entries []vectorindex.Entry
	if len(indexable) > 0 {
		texts := make([]string, len(indexable))
		for i, ch := range indexable {
			texts[i] = embedText(ch)
		}
		vecs, err := provider.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("retrieve: embed chunks: %w", types.EmbedError(ctx, err))
		}
		if len(vecs) != len(indexable) {
			return nil, fmt.Errorf("retrieve: embed chunks: %w: got %d vectors for %d chunks", types.ErrEmbeddingUnavailable, len(vecs), len(indexable))
		}
		entries = make([]vectorindex.Entry, len(indexable))
		for i, ch := range indexable {
			// Chunk IDs are only unique per source; the entry ID is the
			// ingestion position, which is unique and stable.
			entries[i] = vectorindex.Entry{ID: int64(i), Vector: vecs[i], Payload: ch}
		}
	}

	var err error
	r.index, err = vectorindex.Build(entries, r.metric)
	if err != nil {
		return nil, fmt.Errorf("retrieve: build index: %w", err)
	}
	return r, nil
}

// embedText is the text a chunk is indexed under. The section label carries
// signal the body often omits ("VPN Access" over a body about GlobalProtect).
func embedText(ch types.KnowledgeChunk) string {
	if ch.Section == "" {
		return ch.Text
	}
	return ch.Section + "\n" + ch.Text
}

// Retrieve returns at most k chunks relevant to text. k must be positive.
func (r *Retriever) Retrieve(ctx context.Context, text string, k int) (types.RetrievalResult, error) {
	vec, err := r.embed(ctx, text, k)
	if err != nil {
		return nil, err
	}
	return r.RetrieveVector(ctx, vec, k)
}

// RetrieveForCategory is Retrieve restricted to the knowledge sources the
// category draws on. It requires the Retriever to be built WithCategories.
func (r *Retriever) RetrieveForCategory(ctx context.Context, text string, cat types.Category, k int) (types.RetrievalResult, error) {
	vec, err := r.embed(ctx, text, k)
	if err != nil {
		return nil, err
	}
	return r.RetrieveVectorForCategory(ctx, vec, cat, k)
}

func (r *Retriever) embed(ctx context.Context, text string, k int) ([]float32, error) {
	if k <= 0 {
		return nil, fmt.Errorf("retrieve: %w: k must be positive, got %d", types.ErrInvalidArgument, k)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("retrieve: %w", types.ErrEmptyRequest)
	}
	start := time.Now()
	vec, err := r.provider.Embed(ctx, text)
	observe.DefaultMetrics().RecordEmbed(ctx, "retrieve", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed request: %w", types.EmbedError(ctx, err))
	}
	return vec, nil
}

// RetrieveVector retrieves with a pre-computed request embedding.
func (r *Retriever) RetrieveVector(ctx context.Context, vec []float32, k int) (types.RetrievalResult, error) {
	return r.query(ctx, vec, k, nil)
}

// RetrieveVectorForCategory retrieves with a pre-computed request embedding,
// restricted to the category's sources.
func (r *Retriever) RetrieveVectorForCategory(ctx context.Context, vec []float32, cat types.Category, k int) (types.RetrievalResult, error) {
	if r.table == nil {
		return nil, fmt.Errorf("retrieve: %w: retriever has no category table", types.ErrInvalidArgument)
	}
	if _, ok := r.table.Get(cat); !ok {
		return nil, fmt.Errorf("retrieve: %w: unknown category %v", types.ErrInvalidArgument, cat)
	}
	return r.query(ctx, vec, k, func(ch types.KnowledgeChunk) bool {
		return r.table.AllowsSource(cat, ch.Source)
	})
}

func (r *Retriever) query(ctx context.Context, vec []float32, k int, keep func(types.KnowledgeChunk) bool) (types.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("retrieve: %w: k must be positive, got %d", types.ErrInvalidArgument, k)
	}
	start := time.Now()

	// Fetch every hit and cut afterwards: filtered-out chunks must not crowd
	// out eligible ones, and ties at the cut are decided by chunk ID.
	hits, err := r.index.Query(vec, max(r.index.Len(), 1))
	if err != nil {
		return nil, fmt.Errorf("retrieve: query: %w", err)
	}

	out := make(types.RetrievalResult, 0, min(k, len(hits)))
	for _, h := range hits {
		if h.Score < r.floor {
			// Hits are sorted; nothing after this clears the floor either.
			break
		}
		ch := h.Payload.(types.KnowledgeChunk)
		if keep != nil && !keep(ch) {
			continue
		}
		out = append(out, types.RetrievedChunk{Chunk: ch, Score: h.Score})
	}
	sortResult(out)
	if len(out) > k {
		out = out[:k]
	}
	observe.DefaultMetrics().RecordRetrieval(ctx, len(out), time.Since(start))
	return out, nil
}

// sortResult orders by score descending, then chunk ID ascending. The sort is
// stable over index order, so remaining ties keep ascending entry ID.
func sortResult(res types.RetrievalResult) {
	slices.SortStableFunc(res, func(a, b types.RetrievedChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
	})
}

// Len returns the number of indexed chunks.
func (r *Retriever) Len() int { return r.index.Len() }

// SimilarityFloor returns the configured floor.
func (r *Retriever) SimilarityFloor() float64 { return r.floor }

// Provider returns the embeddings provider requests are embedded with.
func (r *Retriever) Provider() embeddings.Provider { return r.provider }
