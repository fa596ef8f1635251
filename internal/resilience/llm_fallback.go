package resilience

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across completion
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those already added.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete returns the first successful completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		start := time.Now()
		resp, err := p.Complete(ctx, req)
		observe.DefaultMetrics().RecordLLM(ctx, p.ModelID(), time.Since(start), err)
		return resp, err
	})
}

// ModelID lists the backends in failover order, e.g. "groq/llama-3.1-8b-instant,gpt-4o-mini".
func (f *LLMFallback) ModelID() string {
	ids := make([]string, len(f.group.entries))
	for i, e := range f.group.entries {
		ids[i] = e.value.ModelID()
	}
	return strings.Join(ids, ",")
}
