// Package mock provides a test double for the embeddings.Provider interface.
//
// Provider looks texts up in a fixed table, so tests can place requests,
// exemplars and knowledge chunks at exact positions in vector space:
//
//	p := &mock.Provider{
//	    Vectors: map[string][]float32{
//	        "reset my password": {1, 0},
//	        "printer on fire":   {0, 1},
//	    },
//	    DimensionsValue: 2,
//	    ModelIDValue:    "test-embed-v1",
//	}
//
// Texts missing from the table fall back to Default. Every call is recorded.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps input text to the vector returned for it.
	Vectors map[string][]float32

	// Default is returned for texts not present in Vectors.
	Default []float32

	// Err, if non-nil, is returned by both Embed and EmbedBatch.
	Err error

	// Delay blocks every call for the given duration or until the context is
	// done, whichever happens first. A done context returns ctx.Err().
	Delay time.Duration

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall

	// inFlight and MaxInFlight track concurrent calls.
	inFlight    int
	MaxInFlight int
}

// Embed records the call and returns the table entry for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	p.mu.Unlock()

	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.lookup(text), nil
}

// EmbedBatch records the call and returns one table entry per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: append([]string(nil), texts...)})
	p.mu.Unlock()

	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.lookup(t)
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Calls returns the total number of Embed and EmbedBatch calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls) + len(p.EmbedBatchCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
	p.MaxInFlight = 0
}

func (p *Provider) wait(ctx context.Context) error {
	p.mu.Lock()
	p.inFlight++
	p.MaxInFlight = max(p.MaxInFlight, p.inFlight)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) lookup(text string) []float32 {
	v, ok := p.Vectors[text]
	if !ok {
		v = p.Default
	}
	return append([]float32(nil), v...)
}

var _ embeddings.Provider = (*Provider)(nil)
