package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
	"github.com/MrWong99/helpdesk/pkg/types"
)

// GuardedEmbeddings is an [embeddings.Provider] behind a [CircuitBreaker].
// While the breaker is open calls fail fast with an error wrapping both
// [types.ErrEmbeddingUnavailable] and [ErrCircuitOpen].
type GuardedEmbeddings struct {
	inner   embeddings.Provider
	name    string
	breaker *CircuitBreaker
}

var _ embeddings.Provider = (*GuardedEmbeddings)(nil)

// GuardEmbeddings wraps p. name labels the breaker and provider metrics.
// Deadline expiry does not count as a backend failure unless cfg.IsFailure
// says otherwise.
func GuardEmbeddings(p embeddings.Provider, name string, cfg CircuitBreakerConfig) *GuardedEmbeddings {
	cfg.Name = name
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &GuardedEmbeddings{inner: p, name: name, breaker: NewCircuitBreaker(cfg)}
}

// Embed implements [embeddings.Provider].
func (g *GuardedEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := g.breaker.Execute(func() error {
		var err error
		vec, err = g.inner.Embed(ctx, text)
		return err
	})
	return vec, g.finish(ctx, "embed", err)
}

// EmbedBatch implements [embeddings.Provider].
func (g *GuardedEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := g.breaker.Execute(func() error {
		var err error
		vecs, err = g.inner.EmbedBatch(ctx, texts)
		return err
	})
	return vecs, g.finish(ctx, "embed_batch", err)
}

// Dimensions implements [embeddings.Provider].
func (g *GuardedEmbeddings) Dimensions() int { return g.inner.Dimensions() }

// ModelID implements [embeddings.Provider].
func (g *GuardedEmbeddings) ModelID() string { return g.inner.ModelID() }

// State reports the breaker state, for health checks.
func (g *GuardedEmbeddings) State() State { return g.breaker.State() }

// Reset closes the breaker.
func (g *GuardedEmbeddings) Reset() { g.breaker.Reset() }

func (g *GuardedEmbeddings) finish(ctx context.Context, kind string, err error) error {
	m := observe.DefaultMetrics()
	m.RecordProviderRequest(ctx, g.name, kind, observe.Status(err))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%w: %s: %w", types.ErrEmbeddingUnavailable, g.name, err)
	}
	m.RecordProviderError(ctx, g.name, kind)
	return err
}
