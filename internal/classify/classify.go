// Package classify assigns a help desk category to free-text requests by
// nearest-exemplar search in embedding space.
//
// Every category exemplar is embedded once when the Classifier is built. A
// request is embedded, the globally nearest exemplar decides the category and
// its distance is turned into a confidence:
//
//	confidence = clamp(1 - distance/DistanceScale, 0, 1)
//
// The transform maps distance 0 to confidence 1 and never increases with
// distance. Requests whose confidence is below MinConfidence are assigned
// [types.GeneralInquiry] instead; low confidence is an outcome, not an error.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
	"github.com/MrWong99/helpdesk/pkg/types"
	"github.com/MrWong99/helpdesk/pkg/vectorindex"
)

// Defaults applied when the corresponding option is not given.
const (
	DefaultMinConfidence = 0.35

	// DefaultDistanceScale is the cosine distance at which confidence reaches 0.
	DefaultDistanceScale = 1.0
)

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	provider      embeddings.Provider
	index         *vectorindex.Index
	minConfidence float64
	distanceScale float64
	metric        vectorindex.Metric
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMinConfidence sets the fallback threshold.
func WithMinConfidence(v float64) Option {
	return func(c *Classifier) { c.minConfidence = v }
}

// WithDistanceScale sets the distance at which confidence reaches zero.
func WithDistanceScale(v float64) Option {
	return func(c *Classifier) { c.distanceScale = v }
}

// WithMetric selects the index metric. The default is cosine.
func WithMetric(m vectorindex.Metric) Option {
	return func(c *Classifier) { c.metric = m }
}

// New embeds every exemplar of table in one batch and builds the exemplar index.
func New(ctx context.Context, provider embeddings.Provider, table *category.Table, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		provider:      provider,
		minConfidence: DefaultMinConfidence,
		distanceScale: DefaultDistanceScale,
		metric:        vectorindex.Cosine,
	}
	for _, o := range opts {
		o(c)
	}
	if c.distanceScale <= 0 {
		return nil, fmt.Errorf("classify: %w: distance scale must be positive, got %v", types.ErrInvalidArgument, c.distanceScale)
	}
	if c.minConfidence < 0 || c.minConfidence > 1 {
		return nil, fmt.Errorf("classify: %w: min confidence must be in [0,1], got %v", types.ErrInvalidArgument, c.minConfidence)
	}

	exemplars := table.Exemplars()
	if len(exemplars) == 0 {
		return nil, fmt.Errorf("classify: %w: no exemplars", types.ErrInvalidEntry)
	}
	texts := make([]string, len(exemplars))
	for i, e := range exemplars {
		texts[i] = e.Text
	}
	vecs, err := provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("classify: embed exemplars: %w", types.EmbedError(ctx, err))
	}
	if len(vecs) != len(exemplars) {
		return nil, fmt.Errorf("classify: embed exemplars: %w: got %d vectors for %d exemplars", types.ErrEmbeddingUnavailable, len(vecs), len(exemplars))
	}

	entries := make([]vectorindex.Entry, len(exemplars))
	for i, e := range exemplars {
		entries[i] = vectorindex.Entry{ID: int64(i), Vector: vecs[i], Payload: e.Category}
	}
	c.index, err = vectorindex.Build(entries, c.metric)
	if err != nil {
		return nil, fmt.Errorf("classify: build index: %w", err)
	}
	return c, nil
}

// Classify embeds text and returns its category. Blank text fails with
// [types.ErrEmptyRequest] before any embedding call; provider failures are
// reported as [types.ErrEmbeddingUnavailable] or [types.ErrTimeout] and are
// not retried.
func (c *Classifier) Classify(ctx context.Context, text string) (types.ClassificationResult, error) {
	if strings.TrimSpace(text) == "" {
		return types.ClassificationResult{}, fmt.Errorf("classify: %w", types.ErrEmptyRequest)
	}
	start := time.Now()
	vec, err := c.provider.Embed(ctx, text)
	observe.DefaultMetrics().RecordEmbed(ctx, "classify", time.Since(start), err)
	if err != nil {
		return types.ClassificationResult{}, fmt.Errorf("classify: embed request: %w", types.EmbedError(ctx, err))
	}
	return c.ClassifyVector(ctx, vec)
}

// ClassifyVector classifies a request that has already been embedded with a
// provider that shares the classifier's model and dimensions.
func (c *Classifier) ClassifyVector(ctx context.Context, vec []float32) (types.ClassificationResult, error) {
	start := time.Now()
	hits, err := c.index.Query(vec, 1)
	if err != nil {
		return types.ClassificationResult{}, fmt.Errorf("classify: query: %w", err)
	}
	// New guarantees a non-empty index.
	nearest := hits[0]
	cat := nearest.Payload.(types.Category)

	res := types.ClassificationResult{
		Category:   cat,
		Nearest:    cat,
		Distance:   nearest.Distance,
		Confidence: c.Confidence(nearest.Distance),
	}
	if res.Confidence < c.minConfidence {
		res.Category = types.GeneralInquiry
		res.Fallback = true
	}
	observe.DefaultMetrics().RecordClassification(ctx, res.Category.String(), res.Fallback, time.Since(start))
	return res, nil
}

// Confidence maps a nearest-exemplar distance to [0, 1].
func (c *Classifier) Confidence(distance float64) float64 {
	if distance <= 0 {
		return 1
	}
	return max(0, min(1, 1-distance/c.distanceScale))
}

// MinConfidence returns the fallback threshold.
func (c *Classifier) MinConfidence() float64 { return c.minConfidence }

// Len returns the number of indexed exemplars.
func (c *Classifier) Len() int { return c.index.Len() }

// Provider returns the embeddings provider requests are embedded with.
func (c *Classifier) Provider() embeddings.Provider { return c.provider }
