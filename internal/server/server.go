// Package server exposes the help desk over HTTP.
//
//	GET  /                 service name and version
//	POST /api/help         classify, retrieve, escalate and answer
//	GET  /api/categories   the category table
//	POST /api/classify     classification only
//	POST /api/retrieve     knowledge retrieval, optionally category-scoped
//	POST /api/escalation   escalation decision for a known classification
//	POST /api/evaluate     accuracy and escalation metrics over a labelled set
//
// Errors are JSON objects {"error": ..., "request_id": ...}. Blank requests
// and bad arguments map to 400, an unavailable embeddings backend to 503 and
// an expired deadline to 504.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/MrWong99/helpdesk/internal/health"
	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/internal/pipeline"
	"github.com/MrWong99/helpdesk/internal/resilience"
	"github.com/MrWong99/helpdesk/internal/respond"
	"github.com/MrWong99/helpdesk/pkg/types"
)

const maxBodyBytes = 1 << 20

// Config tunes a [Server].
type Config struct {
	// Version is reported by GET /.
	Version string

	// EmbeddingRetries is how often a request failing with
	// [types.ErrEmbeddingUnavailable] is retried. Zero disables retries.
	EmbeddingRetries int

	// RetryBase is the first backoff delay, doubled per retry. Default: 100ms.
	RetryBase time.Duration

	// RequestTimeout bounds one API call as a whole, retries and the reply
	// included. Zero uses the pipeline timeout.
	RequestTimeout time.Duration

	// EvaluationSet is used by /api/evaluate when the body carries no requests.
	EvaluationSet []pipeline.LabeledRequest
}

// Option configures optional [Server] collaborators.
type Option func(*Server)

// WithHealth registers /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMount serves h under pattern, e.g. the MCP transport at "/mcp".
func WithMount(pattern string, h http.Handler) Option {
	return func(s *Server) { s.mounts = append(s.mounts, mount{pattern, h}) }
}

type mount struct {
	pattern string
	handler http.Handler
}

// Server routes HTTP requests to the pipeline. It is safe for concurrent use.
type Server struct {
	pipe    *pipeline.Pipeline
	gen     *respond.Generator
	cfg     Config
	health  *health.Handler
	metrics http.Handler
	mounts  []mount
	handler http.Handler
}

// New creates a Server.
func New(pipe *pipeline.Pipeline, gen *respond.Generator, cfg Config, opts ...Option) *Server {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	s := &Server{pipe: pipe, gen: gen, cfg: cfg}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /api/help", s.handleHelp)
	mux.HandleFunc("GET /api/categories", s.handleCategories)
	mux.HandleFunc("POST /api/classify", s.handleClassify)
	mux.HandleFunc("POST /api/retrieve", s.handleRetrieve)
	mux.HandleFunc("POST /api/escalation", s.handleEscalation)
	mux.HandleFunc("POST /api/evaluate", s.handleEvaluate)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	for _, m := range s.mounts {
		mux.Handle(m.pattern, m.handler)
	}
	s.handler = observe.Middleware(observe.DefaultMetrics())(mux)
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// requestContext derives the deadline shared by every attempt of one call.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	d := s.cfg.RequestTimeout
	if d <= 0 {
		d = s.pipe.Config().Timeout
	}
	if d <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), d)
}

// withRetry runs fn, retrying with exponential backoff while it fails with
// [types.ErrEmbeddingUnavailable]. An open circuit is not retried.
func (s *Server) withRetry(ctx context.Context, fn func(context.Context) error) error {
	if s.cfg.EmbeddingRetries <= 0 {
		return fn(ctx)
	}
	backoff := retry.WithMaxRetries(uint64(s.cfg.EmbeddingRetries), retry.NewExponential(s.cfg.RetryBase))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if errors.Is(err, types.ErrEmbeddingUnavailable) && !errors.Is(err, resilience.ErrCircuitOpen) {
			observe.Logger(ctx).Warn("server: embeddings unavailable, retrying", "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", types.ErrInvalidArgument, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps a pipeline error to an HTTP status. Timeouts are checked
// first: a deadline can expire while an embeddings call is in flight.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrEmptyRequest),
		errors.Is(err, types.ErrInvalidArgument),
		errors.Is(err, types.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("server: request failed", "status", status, "err", err)
	} else {
		log.Info("server: request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: observe.RequestID(r.Context())})
}
