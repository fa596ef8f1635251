// Package app wires the help desk subsystems into a running service.
//
// The App struct owns the full lifecycle: New loads the category table and
// knowledge corpus, builds the indexes and assembles the HTTP and MCP
// surfaces, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithCacheStore,
// WithMetricsHandler). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/internal/config"
	"github.com/MrWong99/helpdesk/internal/health"
	"github.com/MrWong99/helpdesk/internal/knowledge"
	"github.com/MrWong99/helpdesk/internal/mcpserver"
	"github.com/MrWong99/helpdesk/internal/pipeline"
	"github.com/MrWong99/helpdesk/internal/resilience"
	"github.com/MrWong99/helpdesk/internal/respond"
	"github.com/MrWong99/helpdesk/internal/server"
	"github.com/MrWong99/helpdesk/pkg/embedcache"
	"github.com/MrWong99/helpdesk/pkg/embedcache/postgres"
	rediscache "github.com/MrWong99/helpdesk/pkg/embedcache/redis"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
	"github.com/MrWong99/helpdesk/pkg/provider/llm"
	"github.com/MrWong99/helpdesk/pkg/types"
	"github.com/MrWong99/helpdesk/pkg/vectorindex"
)

// Providers holds the model backends. Populated by main.go via the config
// registry. Embeddings is required; a nil LLM selects template replies.
type Providers struct {
	Embeddings   embeddings.Provider
	LLM          llm.Provider
	LLMFallbacks []NamedLLM
}

// NamedLLM is a fallback completion backend and the name it is logged under.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// App owns all subsystem lifetimes of the help desk service.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	// Subsystems, initialised in New and torn down in Shutdown.
	table      *category.Table
	corpus     *knowledge.Corpus
	guard      *resilience.GuardedEmbeddings
	cacheStore embedcache.Store
	cache      *embedcache.Provider
	pipe       *pipeline.Pipeline
	gen        *respond.Generator
	evalSet    []pipeline.LabeledRequest
	mcp        *mcpserver.Server
	checkers   []health.Checker
	metrics    http.Handler
	api        *server.Server
	httpSrv    *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCacheStore injects an embedding cache store instead of creating one
// from config.
func WithCacheStore(s embedcache.Store) Option {
	return func(a *App) { a.cacheStore = s }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metrics = h }
}

// WithVersion sets the version reported by the API and the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: category and corpus loading,
// cache connection, index builds, and HTTP/MCP assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Embeddings == nil {
		return nil, fmt.Errorf("app: %w: embeddings provider is required", types.ErrInvalidArgument)
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initCategories(); err != nil {
		return nil, fmt.Errorf("app: init categories: %w", err)
	}
	if err := a.initKnowledge(); err != nil {
		return nil, fmt.Errorf("app: init knowledge: %w", err)
	}
	if err := a.initEmbeddings(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init embeddings: %w", err)
	}
	if err := a.initPipeline(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	if err := a.initResponder(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init responder: %w", err)
	}
	if err := a.initEvaluation(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init evaluation: %w", err)
	}
	a.initServers()
	return a, nil
}

func (a *App) initCategories() error {
	var err error
	if a.cfg.CategoriesFile != "" {
		a.table, err = category.Load(a.cfg.CategoriesFile)
	} else {
		a.table, err = category.Default()
	}
	if err != nil {
		return err
	}
	slog.Info("app: category table loaded", "categories", len(a.table.All()), "exemplars", len(a.table.Exemplars()))
	return nil
}

func (a *App) initKnowledge() error {
	k := a.cfg.Knowledge
	docs := make([]knowledge.Document, 0, len(k.Files))
	for _, f := range k.Files {
		docs = append(docs, knowledge.Document{Path: f.Path, Source: types.Source(f.Source), Format: f.Format})
	}
	chunker := knowledge.Chunker{Size: k.ChunkSize, Overlap: k.ChunkOverlap}
	if chunker.Size == 0 {
		chunker = knowledge.DefaultChunker()
	}
	var err error
	if a.corpus, err = knowledge.Load(chunker, k.UseDefaults(), docs...); err != nil {
		return err
	}
	slog.Info("app: knowledge corpus loaded", "chunks", a.corpus.Len(), "documents", len(docs), "defaults", k.UseDefaults())
	return nil
}

// initEmbeddings layers the embeddings provider: the circuit breaker sits
// directly on the backend, the cache above it so hits never touch the breaker.
func (a *App) initEmbeddings(ctx context.Context) error {
	b := a.cfg.Providers.Breaker
	a.guard = resilience.GuardEmbeddings(a.providers.Embeddings, a.cfg.Providers.Embeddings.Name, resilience.CircuitBreakerConfig{
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
	})
	a.checkers = append(a.checkers, health.Breaker("embeddings", a.guard))

	if a.cacheStore == nil {
		switch a.cfg.Cache.Backend {
		case config.CacheMemory, "":
			a.cacheStore = embedcache.NewMemoryStore(embedcache.WithMaxEntries(a.cfg.Cache.MaxEntries))
		case config.CachePostgres:
			store, err := postgres.New(ctx, a.cfg.Cache.PostgresDSN)
			if err != nil {
				return err
			}
			a.cacheStore = store
			a.closers = append(a.closers, func() error { store.Close(); return nil })
			a.checkers = append(a.checkers, health.Checker{Name: "embedding_cache", Check: store.Ping})
		case config.CacheRedis:
			store, err := rediscache.New(ctx, a.cfg.Cache.RedisURL, rediscache.WithTTL(a.cfg.Cache.TTL))
			if err != nil {
				return err
			}
			a.cacheStore = store
			a.closers = append(a.closers, store.Close)
			a.checkers = append(a.checkers, health.Checker{Name: "embedding_cache", Check: store.Ping})
		}
	}
	if a.cacheStore != nil {
		a.cache = embedcache.New(a.guard, a.cacheStore)
	}
	return nil
}

func (a *App) embeddings() embeddings.Provider {
	if a.cache != nil {
		return a.cache
	}
	return a.guard
}

func (a *App) initPipeline(ctx context.Context) error {
	pc := a.cfg.Pipeline
	metric, err := vectorindex.ParseMetric(pc.Metric)
	if err != nil {
		return err
	}
	ec := a.cfg.Escalation
	pcfg := pipeline.DefaultConfig()
	pcfg.EmbeddingModel = pc.EmbeddingModel
	pcfg.MinConfidence, pcfg.EscalationMinConfidence = a.cfg.MinConfidences()
	if pc.SimilarityFloor != nil {
		pcfg.SimilarityFloor = *pc.SimilarityFloor
	}
	if pc.RetrievalK > 0 {
		pcfg.RetrievalKDefault = pc.RetrievalK
	}
	if pc.DistanceScale > 0 {
		pcfg.DistanceScale = pc.DistanceScale
	}
	pcfg.Metric = metric
	if ec.UrgencyKeywords != nil {
		pcfg.UrgencyKeywords = ec.UrgencyKeywords
	}
	if ec.TriageContact != "" {
		pcfg.TriageContact = ec.TriageContact
	}
	pcfg.FuzzyThreshold = ec.FuzzyThreshold
	pcfg.Timeout = pc.Timeout

	start := time.Now()
	a.pipe, err = pipeline.New(ctx, pcfg, pipeline.Sources{
		Embeddings: a.embeddings(),
		Categories: a.table,
		Chunks:     a.corpus.Chunks(),
	})
	if err != nil {
		return err
	}
	a.checkers = append(a.checkers, health.Indexes(a.pipe.IndexSizes))

	exemplars, chunks := a.pipe.IndexSizes()
	attrs := []any{"exemplars", exemplars, "chunks", chunks, "model", a.guard.ModelID(), "duration", time.Since(start)}
	if a.cache != nil {
		hits, misses := a.cache.Stats()
		attrs = append(attrs, "cache_hits", hits, "cache_misses", misses)
	}
	slog.Info("app: indexes built", attrs...)
	return nil
}

func (a *App) initResponder() error {
	var provider llm.Provider
	if a.providers.LLM != nil {
		b := a.cfg.Providers.Breaker
		fb := resilience.NewLLMFallback(a.providers.LLM, a.cfg.Providers.LLM.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: b.MaxFailures, ResetTimeout: b.ResetTimeout},
		})
		for _, f := range a.providers.LLMFallbacks {
			fb.AddFallback(f.Name, f.Provider)
		}
		provider = fb
	}
	var err error
	a.gen, err = respond.New(a.table, provider, respond.Config{})
	return err
}

func (a *App) initEvaluation() error {
	if a.cfg.Evaluation.File == "" {
		return nil
	}
	var err error
	if a.evalSet, err = pipeline.LoadLabeledRequests(a.cfg.Evaluation.File); err != nil {
		return err
	}
	slog.Info("app: evaluation set loaded", "path", a.cfg.Evaluation.File, "requests", len(a.evalSet))
	return nil
}

func (a *App) initServers() {
	a.mcp = mcpserver.New(a.pipe, a.version, a.evalSet)

	opts := []server.Option{server.WithHealth(health.New(a.checkers...))}
	if a.metrics != nil {
		opts = append(opts, server.WithMetrics(a.metrics))
	}
	if a.cfg.MCP.Enabled {
		opts = append(opts, server.WithMount(a.cfg.MCP.Path, a.mcp.Handler()))
	}
	retries := config.DefaultEmbeddingRetries
	if n := a.cfg.Server.EmbeddingRetries; n != nil {
		retries = *n
	}
	a.api = server.New(a.pipe, a.gen, server.Config{
		Version:          a.version,
		EmbeddingRetries: retries,
		EvaluationSet:    a.evalSet,
	}, opts...)
}

// Pipeline returns the request-understanding pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

// Handler returns the HTTP API, including health, metrics and MCP routes.
func (a *App) Handler() http.Handler { return a.api }

// EvaluationSet returns the labelled requests loaded from config.
func (a *App) EvaluationSet() []pipeline.LabeledRequest { return a.evalSet }

// Evaluate scores the pipeline on reqs, or on the configured evaluation set
// when reqs is empty.
func (a *App) Evaluate(ctx context.Context, reqs []pipeline.LabeledRequest) (pipeline.Metrics, error) {
	if len(reqs) == 0 {
		reqs = a.evalSet
	}
	return a.pipe.Evaluate(ctx, reqs)
}

// Run serves the HTTP API and blocks until ctx is cancelled or the listener
// fails. It does not shut the listener down; call Shutdown for that.
func (a *App) Run(ctx context.Context) error {
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	slog.Info("app: serving", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil, "mcp", a.cfg.MCP.Enabled)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	}
}

// RunMCPStdio serves the MCP tools on stdin/stdout until ctx is cancelled or
// the client disconnects.
func (a *App) RunMCPStdio(ctx context.Context) error {
	slog.Info("app: serving mcp on stdio")
	return a.mcp.RunStdio(ctx)
}

// Shutdown stops the HTTP server and tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("app: http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New acquired before it failed.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
