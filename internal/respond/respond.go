// Package respond turns a processed help desk request into the reply shown to
// the user.
//
// With an LLM configured, the reply is written by the model from the
// retrieved knowledge. Without one, or when every backend fails, a
// deterministic template is rendered from the same inputs, so a request that
// was understood always gets an answer.
package respond

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/pkg/provider/llm"
	"github.com/MrWong99/helpdesk/pkg/types"
)

// Defaults for [Config].
const (
	DefaultTemperature       = 0.3
	DefaultMaxTokens         = 1024
	DefaultEstimatedWait     = "15-30 minutes"
	DefaultKnowledgeMinScore = 0.3
)

// Config tunes a [Generator]. Zero fields take the defaults above.
type Config struct {
	Temperature float64
	MaxTokens   int

	// EstimatedWait is quoted to users whose request is escalated.
	EstimatedWait string

	// KnowledgeMinScore is the retrieval score a chunk must exceed to be
	// offered alongside an escalation notice.
	KnowledgeMinScore float64
}

func (c *Config) applyDefaults() {
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.EstimatedWait == "" {
		c.EstimatedWait = DefaultEstimatedWait
	}
	if c.KnowledgeMinScore == 0 {
		c.KnowledgeMinScore = DefaultKnowledgeMinScore
	}
}

// Input is everything known about one request.
type Input struct {
	Request        string
	Classification types.ClassificationResult
	Retrieval      types.RetrievalResult
	Escalation     types.EscalationDecision
}

// Reply is the user-facing answer.
type Reply struct {
	Text string `json:"text"`

	// Model is the LLM that wrote the knowledge part of Text, or empty when
	// it came from the template.
	Model string `json:"model,omitempty"`
}

// Generator writes replies. It is safe for concurrent use.
type Generator struct {
	table *category.Table
	llm   llm.Provider
	cfg   Config
}

// New creates a Generator. provider may be nil, in which case every reply is
// rendered from the template.
func New(table *category.Table, provider llm.Provider, cfg Config) (*Generator, error) {
	if table == nil {
		return nil, fmt.Errorf("respond: %w: category table is required", types.ErrInvalidArgument)
	}
	if cfg.Temperature < 0 || cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("respond: %w: temperature and max tokens must not be negative", types.ErrInvalidArgument)
	}
	cfg.applyDefaults()
	return &Generator{table: table, llm: provider, cfg: cfg}, nil
}

// Respond writes the reply for in. An escalated request gets the escalation
// notice, preceded by an answer from knowledge only when a retrieved chunk
// scores above KnowledgeMinScore. The error is non-nil only when ctx ends.
func (g *Generator) Respond(ctx context.Context, in Input) (Reply, error) {
	entry := g.entry(in.Classification.Category)

	if !in.Escalation.Required {
		return g.answer(ctx, in, entry, false)
	}

	notice := EscalationNotice(entry, in.Escalation, g.cfg.EstimatedWait)
	relevant := in.Retrieval.Above(g.cfg.KnowledgeMinScore)
	if len(relevant) == 0 {
		return Reply{Text: notice}, nil
	}
	in.Retrieval = relevant
	kb, err := g.answer(ctx, in, entry, true)
	if err != nil {
		return Reply{}, err
	}
	kb.Text = kb.Text + "\n\n" + notice
	return kb, nil
}

func (g *Generator) answer(ctx context.Context, in Input, entry category.Entry, escalated bool) (Reply, error) {
	if g.llm == nil {
		return Reply{Text: Template(in, entry)}, nil
	}

	req := BuildPrompt(in, entry, escalated)
	req.Temperature = g.cfg.Temperature
	req.MaxTokens = g.cfg.MaxTokens

	resp, err := g.llm.Complete(ctx, req)
	switch {
	case err == nil && strings.TrimSpace(resp.Content) != "":
		return Reply{Text: strings.TrimSpace(resp.Content), Model: g.llm.ModelID()}, nil
	case ctx.Err() != nil:
		return Reply{}, fmt.Errorf("respond: %w", ctx.Err())
	case err == nil:
		err = errors.New("empty completion")
	}
	observe.Logger(ctx).Warn("respond: llm unavailable, using template", "model", g.llm.ModelID(), "err", err)
	return Reply{Text: Template(in, entry)}, nil
}

func (g *Generator) entry(c types.Category) category.Entry {
	if e, ok := g.table.Get(c); ok {
		return e
	}
	return g.table.MustGet(types.GeneralInquiry)
}
