package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/helpdesk/internal/pipeline"
	"github.com/MrWong99/helpdesk/pkg/types"
)

type classifyArgs struct {
	Request string `json:"request" jsonschema:"the user's IT support request in free text"`
}

// classifyResult mirrors types.ClassificationResult with categories as names.
type classifyResult struct {
	Category   string  `json:"category"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Nearest    string  `json:"nearest"`
	Fallback   bool    `json:"fallback"`
}

type retrieveArgs struct {
	Request  string `json:"request" jsonschema:"the user's IT support request in free text"`
	K        *int   `json:"k,omitempty" jsonschema:"maximum number of passages (at least 1), server default when omitted"`
	Category string `json:"category,omitempty" jsonschema:"restrict results to the knowledge sources of this category"`
}

type passage struct {
	ID      int64   `json:"id"`
	Source  string  `json:"source"`
	Section string  `json:"section,omitempty"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

type retrieveResult struct {
	Passages []passage `json:"passages"`
}

type escalationArgs struct {
	Category   string  `json:"category" jsonschema:"category name, e.g. password_reset"`
	Confidence float64 `json:"confidence" jsonschema:"classification confidence between 0 and 1"`
	Request    string  `json:"request" jsonschema:"the original request text, scanned for urgency keywords and trigger phrases"`
}

type escalationResult struct {
	Required bool   `json:"required"`
	Contact  string `json:"contact,omitempty"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

type labeledArgs struct {
	Request  string `json:"request"`
	Category string `json:"category"`
	Escalate bool   `json:"escalate,omitempty"`
}

type evaluateArgs struct {
	Requests []labeledArgs `json:"requests,omitempty" jsonschema:"labelled requests; the configured evaluation set is used when omitted"`
}

type evaluateResult struct {
	Total               int     `json:"total"`
	Correct             int     `json:"correct"`
	Accuracy            float64 `json:"accuracy"`
	EscalationPrecision float64 `json:"escalation_precision"`
	EscalationRecall    float64 `json:"escalation_recall"`
	Misclassified       []miss  `json:"misclassified,omitempty"`
}

type miss struct {
	Request  string `json:"request"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (s *Server) classify(ctx context.Context, _ *mcp.CallToolRequest, in classifyArgs) (*mcp.CallToolResult, classifyResult, error) {
	res, err := s.pipe.Classify(ctx, in.Request)
	if err != nil {
		return nil, classifyResult{}, err
	}
	label := res.Category.String()
	if e, ok := s.pipe.Categories().Get(res.Category); ok && e.Label != "" {
		label = e.Label
	}
	return nil, classifyResult{
		Category:   res.Category.String(),
		Label:      label,
		Confidence: res.Confidence,
		Nearest:    res.Nearest.String(),
		Fallback:   res.Fallback,
	}, nil
}

func (s *Server) retrieve(ctx context.Context, _ *mcp.CallToolRequest, in retrieveArgs) (*mcp.CallToolResult, retrieveResult, error) {
	k := s.pipe.Config().RetrievalKDefault
	if in.K != nil {
		k = *in.K
	}
	var (
		res types.RetrievalResult
		err error
	)
	if in.Category != "" {
		cat, perr := types.ParseCategory(in.Category)
		if perr != nil {
			return nil, retrieveResult{}, perr
		}
		res, err = s.pipe.RetrieveForCategory(ctx, in.Request, cat, k)
	} else {
		res, err = s.pipe.Retrieve(ctx, in.Request, k)
	}
	if err != nil {
		return nil, retrieveResult{}, err
	}
	out := retrieveResult{Passages: make([]passage, 0, len(res))}
	for _, r := range res {
		out.Passages = append(out.Passages, passage{
			ID:      r.Chunk.ID,
			Source:  string(r.Chunk.Source),
			Section: r.Chunk.Section,
			Text:    r.Chunk.Text,
			Score:   r.Score,
		})
	}
	return nil, out, nil
}

func (s *Server) decideEscalation(_ context.Context, _ *mcp.CallToolRequest, in escalationArgs) (*mcp.CallToolResult, escalationResult, error) {
	cat, err := types.ParseCategory(in.Category)
	if err != nil {
		return nil, escalationResult{}, err
	}
	if err := types.CheckConfidence(in.Confidence); err != nil {
		return nil, escalationResult{}, err
	}
	d := s.pipe.DecideEscalation(cat, in.Confidence, in.Request)
	return nil, escalationResult{
		Required: d.Required,
		Contact:  d.Contact,
		Reason:   string(d.Reason),
		Detail:   d.Detail,
	}, nil
}

func (s *Server) evaluate(ctx context.Context, _ *mcp.CallToolRequest, in evaluateArgs) (*mcp.CallToolResult, evaluateResult, error) {
	set := s.evalSet
	if len(in.Requests) > 0 {
		set = make([]pipeline.LabeledRequest, 0, len(in.Requests))
		for i, r := range in.Requests {
			cat, err := types.ParseCategory(r.Category)
			if err != nil {
				return nil, evaluateResult{}, fmt.Errorf("request %d: %w", i, err)
			}
			set = append(set, pipeline.LabeledRequest{Text: r.Request, Category: cat, Escalate: r.Escalate})
		}
	}
	m, err := s.pipe.Evaluate(ctx, set)
	if err != nil {
		return nil, evaluateResult{}, err
	}
	out := evaluateResult{
		Total:               m.Total,
		Correct:             m.Correct,
		Accuracy:            m.Accuracy,
		EscalationPrecision: m.EscalationPrecision,
		EscalationRecall:    m.EscalationRecall,
	}
	for _, o := range m.Outcomes {
		if o.ActualCategory != o.ExpectedCategory {
			out.Misclassified = append(out.Misclassified, miss{
				Request:  o.Request,
				Expected: o.ExpectedCategory.String(),
				Actual:   o.ActualCategory.String(),
			})
		}
	}
	return nil, out, nil
}
