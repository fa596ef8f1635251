// Package pipeline wires the classifier, retriever and escalation engine into
// the request-understanding flow.
//
// A [Pipeline] is built once at start-up: [New] embeds all exemplars and
// knowledge chunks before returning, so a constructed Pipeline is ready to
// serve. Each [Pipeline.Process] call is independent; the indexes and tables
// it reads are immutable.
//
// Process classifies and retrieves concurrently. When both stages embed with
// the same model and dimensionality the request is embedded once and the
// vector is shared.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/internal/classify"
	"github.com/MrWong99/helpdesk/internal/escalation"
	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/internal/retrieve"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
	"github.com/MrWong99/helpdesk/pkg/types"
	"github.com/MrWong99/helpdesk/pkg/vectorindex"
)

// Config is the explicit tuning of a Pipeline. Start from [DefaultConfig]:
// the three thresholds are taken as given, so zero is a valid setting for
// each. New replaces the remaining zero fields with their defaults, except
// UrgencyKeywords where an empty non-nil slice disables the keyword rule.
type Config struct {
	// EmbeddingModel is the model the indexes are expected to be built with.
	// A mismatch with the provider's ModelID is logged, not rejected.
	EmbeddingModel string

	// MinConfidence is the classifier fallback threshold.
	MinConfidence float64

	// EscalationMinConfidence routes requests below it to triage. It must not
	// be below MinConfidence, or a request the classifier gave up on could
	// pass without escalation.
	EscalationMinConfidence float64

	// RetrievalKDefault is the k used by Process and by API callers that do
	// not name one.
	RetrievalKDefault int

	// SimilarityFloor drops retrieval hits scoring below it.
	SimilarityFloor float64

	// DistanceScale is the nearest-exemplar distance at which confidence is 0.
	DistanceScale float64

	Metric vectorindex.Metric

	UrgencyKeywords []string
	TriageContact   string
	FuzzyThreshold  float64

	// Timeout bounds each request. Zero disables the bound.
	Timeout time.Duration
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		MinConfidence:           classify.DefaultMinConfidence,
		EscalationMinConfidence: escalation.DefaultMinConfidence,
		RetrievalKDefault:       3,
		SimilarityFloor:         retrieve.DefaultSimilarityFloor,
		DistanceScale:           classify.DefaultDistanceScale,
		Metric:                  vectorindex.Cosine,
		UrgencyKeywords:         escalation.DefaultUrgencyKeywords(),
		TriageContact:           escalation.DefaultTriageContact,
		Timeout:                 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.RetrievalKDefault == 0 {
		c.RetrievalKDefault = d.RetrievalKDefault
	}
	if c.DistanceScale == 0 {
		c.DistanceScale = d.DistanceScale
	}
	if c.UrgencyKeywords == nil {
		c.UrgencyKeywords = d.UrgencyKeywords
	}
	if c.TriageContact == "" {
		c.TriageContact = d.TriageContact
	}
}

// Sources are the collaborators a Pipeline is built from.
type Sources struct {
	// Embeddings embeds exemplars and requests. Required.
	Embeddings embeddings.Provider

	// KnowledgeEmbeddings embeds knowledge chunks and the retrieval side of
	// requests. Nil reuses Embeddings.
	KnowledgeEmbeddings embeddings.Provider

	// Categories is the category table. Required.
	Categories *category.Table

	// Chunks is the knowledge corpus. Blank chunks are skipped.
	Chunks []types.KnowledgeChunk
}

// Result is the structured outcome of processing one request.
type Result struct {
	Classification types.ClassificationResult `json:"classification"`
	Retrieval      types.RetrievalResult      `json:"retrieval"`
	Escalation     types.EscalationDecision   `json:"escalation"`
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	cfg        Config
	table      *category.Table
	classifier *classify.Classifier
	retriever  *retrieve.Retriever
	engine     *escalation.Engine
	shared     bool
}

// New builds both indexes and the escalation engine. It returns only after
// every exemplar and chunk has been embedded.
func New(ctx context.Context, cfg Config, src Sources) (*Pipeline, error) {
	cfg.applyDefaults()
	if src.Embeddings == nil {
		return nil, fmt.Errorf("pipeline: %w: embeddings provider is required", types.ErrInvalidArgument)
	}
	if src.Categories == nil {
		return nil, fmt.Errorf("pipeline: %w: category table is required", types.ErrInvalidArgument)
	}
	if cfg.RetrievalKDefault < 0 {
		return nil, fmt.Errorf("pipeline: %w: retrieval k default must be positive, got %d", types.ErrInvalidArgument, cfg.RetrievalKDefault)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("pipeline: %w: negative timeout %s", types.ErrInvalidArgument, cfg.Timeout)
	}
	for name, v := range map[string]float64{
		"min confidence":            cfg.MinConfidence,
		"escalation min confidence": cfg.EscalationMinConfidence,
		"similarity floor":          cfg.SimilarityFloor,
	} {
		if !(v >= 0 && v <= 1) {
			return nil, fmt.Errorf("pipeline: %w: %s must be in [0,1], got %v", types.ErrInvalidArgument, name, v)
		}
	}
	if cfg.EscalationMinConfidence < cfg.MinConfidence {
		return nil, fmt.Errorf("pipeline: %w: escalation min confidence %.2f is below classifier min confidence %.2f",
			types.ErrInvalidArgument, cfg.EscalationMinConfidence, cfg.MinConfidence)
	}
	knowledgeEmb := src.KnowledgeEmbeddings
	if knowledgeEmb == nil {
		knowledgeEmb = src.Embeddings
	}
	if cfg.EmbeddingModel != "" && cfg.EmbeddingModel != src.Embeddings.ModelID() {
		slog.Warn("pipeline: embedding model differs from configuration",
			"configured", cfg.EmbeddingModel, "provider", src.Embeddings.ModelID())
	}

	engine, err := escalation.New(src.Categories, escalation.Config{
		MinConfidence:   cfg.EscalationMinConfidence,
		UrgencyKeywords: cfg.UrgencyKeywords,
		TriageContact:   cfg.TriageContact,
		FuzzyThreshold:  cfg.FuzzyThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		cfg:    cfg,
		table:  src.Categories,
		engine: engine,
		shared: sameSpace(src.Embeddings, knowledgeEmb),
	}

	// Both indexes embed in one batch each; build them side by side.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := classify.New(gctx, src.Embeddings, src.Categories,
			classify.WithMinConfidence(cfg.MinConfidence),
			classify.WithDistanceScale(cfg.DistanceScale),
			classify.WithMetric(cfg.Metric),
		)
		p.classifier = c
		return err
	})
	g.Go(func() error {
		r, err := retrieve.New(gctx, knowledgeEmb, src.Chunks,
			retrieve.WithSimilarityFloor(cfg.SimilarityFloor),
			retrieve.WithMetric(cfg.Metric),
			retrieve.WithCategories(src.Categories),
		)
		p.retriever = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	m := observe.DefaultMetrics()
	m.RecordIndexSize(ctx, "exemplars", p.classifier.Len())
	m.RecordIndexSize(ctx, "knowledge", p.retriever.Len())
	slog.Info("pipeline: indexes built",
		"exemplars", p.classifier.Len(),
		"chunks", p.retriever.Len(),
		"model", src.Embeddings.ModelID(),
		"shared_embedding", p.shared,
	)
	return p, nil
}

// sameSpace reports whether vectors from a and b are interchangeable.
func sameSpace(a, b embeddings.Provider) bool {
	return a.ModelID() != "" && a.ModelID() == b.ModelID() && a.Dimensions() == b.Dimensions()
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Categories returns the category table.
func (p *Pipeline) Categories() *category.Table { return p.table }

// IndexSizes returns the number of indexed exemplars and knowledge chunks.
func (p *Pipeline) IndexSizes() (exemplars, chunks int) {
	return p.classifier.Len(), p.retriever.Len()
}

// Classify assigns a category to text.
func (p *Pipeline) Classify(ctx context.Context, text string) (types.ClassificationResult, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.classifier.Classify(ctx, text)
	return res, timeoutErr(ctx, err)
}

// Retrieve returns at most k relevant knowledge chunks. k must be positive;
// callers without an explicit k pass Config().RetrievalKDefault.
func (p *Pipeline) Retrieve(ctx context.Context, text string, k int) (types.RetrievalResult, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.retriever.Retrieve(ctx, text, k)
	return res, timeoutErr(ctx, err)
}

// RetrieveForCategory is Retrieve restricted to the category's sources.
func (p *Pipeline) RetrieveForCategory(ctx context.Context, text string, cat types.Category, k int) (types.RetrievalResult, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.retriever.RetrieveForCategory(ctx, text, cat, k)
	return res, timeoutErr(ctx, err)
}

// DecideEscalation applies the escalation rules. It performs no I/O.
func (p *Pipeline) DecideEscalation(cat types.Category, confidence float64, text string) types.EscalationDecision {
	return p.engine.Decide(cat, confidence, text)
}

// Process classifies text, retrieves knowledge for it and decides escalation.
func (p *Pipeline) Process(ctx context.Context, text string) (Result, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.process")
	defer span.End()

	res, err := p.process(ctx, text)
	observe.DefaultMetrics().RecordPipeline(ctx, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("pipeline: %w", err)
	}
	observe.Logger(ctx).Debug("pipeline: processed",
		"category", res.Classification.Category,
		"confidence", res.Classification.Confidence,
		"hits", len(res.Retrieval),
		"escalation", res.Escalation.Reason,
		"duration", time.Since(start),
	)
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, types.ErrEmptyRequest
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var res Result
	k := p.cfg.RetrievalKDefault

	if p.shared {
		provider := p.classifier.Provider()
		embedStart := time.Now()
		vec, err := provider.Embed(ctx, text)
		observe.DefaultMetrics().RecordEmbed(ctx, "pipeline", time.Since(embedStart), err)
		if err != nil {
			return Result{}, timeoutErr(ctx, fmt.Errorf("embed request: %w", types.EmbedError(ctx, err)))
		}
		if res.Classification, err = p.classifier.ClassifyVector(ctx, vec); err != nil {
			return Result{}, err
		}
		if res.Retrieval, err = p.retriever.RetrieveVector(ctx, vec, k); err != nil {
			return Result{}, err
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			res.Classification, err = p.classifier.Classify(gctx, text)
			return err
		})
		g.Go(func() error {
			var err error
			res.Retrieval, err = p.retriever.Retrieve(gctx, text, k)
			return err
		})
		if err := g.Wait(); err != nil {
			return Result{}, timeoutErr(ctx, err)
		}
	}

	res.Escalation = p.engine.Decide(res.Classification.Category, res.Classification.Confidence, text)
	observe.DefaultMetrics().RecordEscalation(ctx, string(res.Escalation.Reason), res.Escalation.Required)
	return res, nil
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

// timeoutErr reclassifies err as a timeout when the request deadline has
// passed, whatever the failing stage reported.
func timeoutErr(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, types.ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", types.ErrTimeout, err)
	}
	return err
}
