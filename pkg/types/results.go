package types

import "fmt"

// KnowledgeChunk is a unit of retrievable text. Chunks are produced by the
// ingestion layer and are read-only once indexed.
type KnowledgeChunk struct {
	// ID is stable and unique within Source.
	ID int64 `json:"id" yaml:"id"`

	// Source names the collection the chunk came from.
	Source Source `json:"source" yaml:"source"`

	// Section is the header or issue label the chunk belongs to.
	Section string `json:"section,omitempty" yaml:"section,omitempty"`

	// Text is the raw passage. Chunks with blank text are never indexed.
	Text string `json:"text" yaml:"text"`
}

// ClassificationResult is the outcome of classifying one request.
type ClassificationResult struct {
	// Category is the assigned category. It is [GeneralInquiry] when Fallback
	// is set.
	Category Category `json:"category"`

	// Confidence is in [0, 1] and never increases as Distance grows.
	Confidence float64 `json:"confidence"`

	// Distance to the nearest exemplar under the index metric.
	Distance float64 `json:"distance"`

	// Nearest is the category owning the nearest exemplar, before any fallback.
	Nearest Category `json:"nearest"`

	// Fallback is true when Confidence was below the classifier threshold and
	// Category was overridden.
	Fallback bool `json:"fallback"`
}

// CheckConfidence returns an [ErrInvalidArgument] error unless c is in [0, 1].
// NaN is rejected.
func CheckConfidence(c float64) error {
	if c >= 0 && c <= 1 {
		return nil
	}
	return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidArgument, c)
}

// RetrievedChunk pairs a knowledge chunk with its similarity to the query.
type RetrievedChunk struct {
	Chunk KnowledgeChunk `json:"chunk"`
	Score float64        `json:"score"`
}

// RetrievalResult is ordered by Score descending, ties broken by ascending
// chunk ID.
type RetrievalResult []RetrievedChunk

// TopScore returns the best score in r, or 0 if r is empty.
func (r RetrievalResult) TopScore() float64 {
	if len(r) == 0 {
		return 0
	}
	return r[0].Score
}

// Above returns the chunks scoring strictly above min, in order.
func (r RetrievalResult) Above(min float64) RetrievalResult {
	var out RetrievalResult
	for _, c := range r {
		if c.Score > min {
			out = append(out, c)
		}
	}
	return out
}

// EscalationReason is the closed set of reasons an escalation decision can carry.
type EscalationReason string

const (
	ReasonNone           EscalationReason = "NONE"
	ReasonCategoryForced EscalationReason = "CATEGORY_FORCED"
	ReasonLowConfidence  EscalationReason = "LOW_CONFIDENCE"
	ReasonUrgencyKeyword EscalationReason = "URGENCY_KEYWORD"
	ReasonTriggerPhrase  EscalationReason = "TRIGGER_PHRASE"
)

// EscalationReasons lists every reason in precedence order.
func EscalationReasons() []EscalationReason {
	return []EscalationReason{ReasonCategoryForced, ReasonLowConfidence, ReasonUrgencyKeyword, ReasonTriggerPhrase, ReasonNone}
}

// EscalationDecision is the verdict of the escalation engine.
type EscalationDecision struct {
	Required bool `json:"required"`

	// Contact is set if and only if Required is true.
	Contact string `json:"contact,omitempty"`

	Reason EscalationReason `json:"reason"`

	// Detail is a human-readable explanation, e.g. the matched keyword.
	Detail string `json:"detail,omitempty"`
}
