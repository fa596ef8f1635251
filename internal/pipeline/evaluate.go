package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/helpdesk/pkg/types"
)

// evalConcurrency bounds the requests evaluated at once.
const evalConcurrency = 4

// LabeledRequest is one evaluation case.
type LabeledRequest struct {
	ID       string         `yaml:"id,omitempty" json:"id,omitempty"`
	Text     string         `yaml:"request" json:"request"`
	Category types.Category `yaml:"category" json:"category"`
	Escalate bool           `yaml:"escalate" json:"escalate"`
}

// Outcome is the per-request evaluation record.
type Outcome struct {
	ID                 string                 `json:"id,omitempty"`
	Request            string                 `json:"request"`
	ExpectedCategory   types.Category         `json:"expected_category"`
	ActualCategory     types.Category         `json:"actual_category"`
	Confidence         float64                `json:"confidence"`
	ExpectedEscalation bool                   `json:"expected_escalation"`
	ActualEscalation   bool                   `json:"actual_escalation"`
	Reason             types.EscalationReason `json:"reason"`
}

// Metrics summarises an evaluation run.
type Metrics struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`

	// Accuracy is Correct / Total.
	Accuracy float64 `json:"accuracy"`

	EscalationTP int `json:"escalation_true_positives"`
	EscalationFP int `json:"escalation_false_positives"`
	EscalationFN int `json:"escalation_false_negatives"`
	EscalationTN int `json:"escalation_true_negatives"`

	// EscalationPrecision is TP / (TP+FP), or 0 when nothing escalated.
	EscalationPrecision float64 `json:"escalation_precision"`

	// EscalationRecall is TP / (TP+FN), or 0 when nothing should have.
	EscalationRecall float64 `json:"escalation_recall"`

	// Confusion counts predictions per expected category:
	// Confusion[expected][actual].
	Confusion map[types.Category]map[types.Category]int `json:"confusion"`

	Outcomes []Outcome `json:"outcomes"`
}

// Evaluate processes every request and compares the outcome to its label.
// The first request that fails aborts the run with that error.
func (p *Pipeline) Evaluate(ctx context.Context, reqs []LabeledRequest) (Metrics, error) {
	if len(reqs) == 0 {
		return Metrics{}, fmt.Errorf("pipeline: evaluate: %w: no labeled requests", types.ErrInvalidArgument)
	}

	outcomes := make([]Outcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(evalConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := p.Process(gctx, req.Text)
			if err != nil {
				return fmt.Errorf("evaluate request %d: %w", i, err)
			}
			outcomes[i] = Outcome{
				ID:                 req.ID,
				Request:            req.Text,
				ExpectedCategory:   req.Category,
				ActualCategory:     res.Classification.Category,
				Confidence:         res.Classification.Confidence,
				ExpectedEscalation: req.Escalate,
				ActualEscalation:   res.Escalation.Required,
				Reason:             res.Escalation.Reason,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Metrics{}, fmt.Errorf("pipeline: %w", err)
	}
	return Score(outcomes), nil
}

// Score computes Metrics from per-request outcomes.
func Score(outcomes []Outcome) Metrics {
	m := Metrics{
		Total:     len(outcomes),
		Confusion: make(map[types.Category]map[types.Category]int),
		Outcomes:  outcomes,
	}
	for _, o := range outcomes {
		if o.ActualCategory == o.ExpectedCategory {
			m.Correct++
		}
		row := m.Confusion[o.ExpectedCategory]
		if row == nil {
			row = make(map[types.Category]int)
			m.Confusion[o.ExpectedCategory] = row
		}
		row[o.ActualCategory]++

		switch {
		case o.ActualEscalation && o.ExpectedEscalation:
			m.EscalationTP++
		case o.ActualEscalation:
			m.EscalationFP++
		case o.ExpectedEscalation:
			m.EscalationFN++
		default:
			m.EscalationTN++
		}
	}
	m.Accuracy = ratio(m.Correct, m.Total)
	m.EscalationPrecision = ratio(m.EscalationTP, m.EscalationTP+m.EscalationFP)
	m.EscalationRecall = ratio(m.EscalationTP, m.EscalationTP+m.EscalationFN)
	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// evalFile is the on-disk layout of an evaluation set.
type evalFile struct {
	Requests []LabeledRequest `yaml:"requests"`
}

// LoadLabeledRequests reads an evaluation set from a YAML file.
func LoadLabeledRequests(path string) ([]LabeledRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open evaluation set: %w", err)
	}
	defer f.Close()
	reqs, err := DecodeLabeledRequests(f)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	return reqs, nil
}

// DecodeLabeledRequests parses an evaluation set. Unknown fields, unknown
// categories and blank requests are errors.
func DecodeLabeledRequests(r io.Reader) ([]LabeledRequest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f evalFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("pipeline: decode evaluation set: %w", err)
	}
	var errs []error
	for i, req := range f.Requests {
		if strings.TrimSpace(req.Text) == "" {
			errs = append(errs, fmt.Errorf("request %d: %w: blank request text", i, types.ErrInvalidEntry))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: evaluation set: %w", err)
	}
	return f.Requests, nil
}
