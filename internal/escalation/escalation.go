// Package escalation decides whether a classified request must be handed to
// a human.
//
// The decision is a pure function of category, classifier confidence and
// request text. Rules are evaluated in a fixed order and the first match wins:
//
//  1. the category always escalates (CATEGORY_FORCED, category contact)
//  2. confidence below MinConfidence (LOW_CONFIDENCE, triage contact)
//  3. an urgency keyword appears in the text (URGENCY_KEYWORD, category contact)
//  4. a category trigger phrase appears in the text (TRIGGER_PHRASE, category contact)
//
// Otherwise no escalation is required and the decision carries no contact.
package escalation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/pkg/types"
)

const (
	// DefaultMinConfidence is the confidence below which a request goes to triage.
	DefaultMinConfidence = 0.5

	// DefaultTriageContact receives requests nobody could route.
	DefaultTriageContact = "it-support@techcorp.com"

	// minFuzzyLen is the shortest word considered for fuzzy keyword matching.
	// Shorter words produce too many near misses.
	minFuzzyLen = 5
)

// DefaultUrgencyKeywords returns the built-in urgency vocabulary.
func DefaultUrgencyKeywords() []string {
	return []string{
		"urgent", "emergency", "immediately", "asap", "critical",
		"deadline", "tomorrow", "today", "right now", "can't wait",
	}
}

// Config holds the escalation rules that are not part of the category table.
type Config struct {
	// MinConfidence routes requests below it to the triage contact.
	MinConfidence float64

	// UrgencyKeywords are matched case-insensitively on word boundaries with
	// flexible inner whitespace. Nil selects DefaultUrgencyKeywords; an empty
	// non-nil slice disables the rule.
	UrgencyKeywords []string

	// TriageContact receives low-confidence requests. Empty selects
	// DefaultTriageContact.
	TriageContact string

	// FuzzyThreshold enables Jaro-Winkler matching of single-word keywords
	// against request words when > 0. Values around 0.9 catch transposed
	// letters ("urgnet") without matching unrelated words.
	FuzzyThreshold float64
}

// DefaultConfig returns the built-in escalation rules.
func DefaultConfig() Config {
	return Config{
		MinConfidence:   DefaultMinConfidence,
		UrgencyKeywords: DefaultUrgencyKeywords(),
		TriageContact:   DefaultTriageContact,
	}
}

type phrase struct {
	text string
	re   *regexp.Regexp
}

// Engine applies the escalation rules. It is immutable after New and safe for
// concurrent use.
type Engine struct {
	table          *category.Table
	minConfidence  float64
	triage         string
	keywords       []phrase
	fuzzyWords     []string
	fuzzyThreshold float64
	triggers       map[types.Category][]phrase
}

// New compiles cfg and the trigger phrases of table into an Engine.
func New(table *category.Table, cfg Config) (*Engine, error) {
	if table == nil {
		return nil, fmt.Errorf("escalation: %w: nil category table", types.ErrInvalidArgument)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("escalation: %w: min confidence must be in [0,1], got %v", types.ErrInvalidArgument, cfg.MinConfidence)
	}
	if cfg.FuzzyThreshold < 0 || cfg.FuzzyThreshold > 1 {
		return nil, fmt.Errorf("escalation: %w: fuzzy threshold must be in [0,1], got %v", types.ErrInvalidArgument, cfg.FuzzyThreshold)
	}
	keywords := cfg.UrgencyKeywords
	if keywords == nil {
		keywords = DefaultUrgencyKeywords()
	}

	e := &Engine{
		table:          table,
		minConfidence:  cfg.MinConfidence,
		triage:         cfg.TriageContact,
		fuzzyThreshold: cfg.FuzzyThreshold,
		triggers:       make(map[types.Category][]phrase),
	}
	if e.triage == "" {
		e.triage = DefaultTriageContact
	}

	var errs []error
	for _, kw := range keywords {
		p, err := compile(kw)
		if err != nil {
			errs = append(errs, fmt.Errorf("urgency keyword %q: %w", kw, err))
			continue
		}
		e.keywords = append(e.keywords, p)
		if !strings.ContainsFunc(p.text, unicode.IsSpace) && len([]rune(p.text)) >= minFuzzyLen {
			e.fuzzyWords = append(e.fuzzyWords, p.text)
		}
	}
	for _, entry := range table.All() {
		for _, tr := range entry.Triggers {
			p, err := compile(tr)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s trigger %q: %w", entry.ID, tr, err))
				continue
			}
			e.triggers[entry.ID] = append(e.triggers[entry.ID], p)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("escalation: %w", err)
	}
	return e, nil
}

// compile turns a keyword or phrase into a case-insensitive pattern. Word
// boundaries are only asserted next to word characters, so "can't wait" and
// "24/7" still anchor sensibly.
func compile(s string) (phrase, error) {
	words := strings.Fields(normalise(s))
	if len(words) == 0 {
		return phrase{}, fmt.Errorf("%w: blank phrase", types.ErrInvalidArgument)
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	expr := strings.Join(quoted, `\s+`)
	if isASCIIWord(firstRune(words[0])) {
		expr = `\b` + expr
	}
	if isASCIIWord(lastRune(words[len(words)-1])) {
		expr += `\b`
	}
	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return phrase{}, err
	}
	return phrase{text: strings.Join(words, " "), re: re}, nil
}

// Decide returns the escalation decision for a classified request. An
// invalid category is treated as general_inquiry.
func (e *Engine) Decide(cat types.Category, confidence float64, text string) types.EscalationDecision {
	entry, ok := e.table.Get(cat)
	if !ok {
		cat = types.GeneralInquiry
		entry = e.table.MustGet(cat)
	}

	if entry.AlwaysEscalate {
		return types.EscalationDecision{
			Required: true,
			Contact:  entry.Contact,
			Reason:   types.ReasonCategoryForced,
			Detail:   fmt.Sprintf("%s always escalates", cat),
		}
	}
	// The negated form also routes NaN to triage.
	if !(confidence >= e.minConfidence) {
		return types.EscalationDecision{
			Required: true,
			Contact:  e.triage,
			Reason:   types.ReasonLowConfidence,
			Detail:   fmt.Sprintf("confidence %.2f below %.2f", confidence, e.minConfidence),
		}
	}

	text = normalise(text)
	if kw, ok := e.matchKeyword(text); ok {
		return types.EscalationDecision{
			Required: true,
			Contact:  entry.Contact,
			Reason:   types.ReasonUrgencyKeyword,
			Detail:   kw,
		}
	}
	for _, tr := range e.triggers[cat] {
		if tr.re.MatchString(text) {
			return types.EscalationDecision{
				Required: true,
				Contact:  entry.Contact,
				Reason:   types.ReasonTriggerPhrase,
				Detail:   tr.text,
			}
		}
	}
	return types.EscalationDecision{Reason: types.ReasonNone}
}

func (e *Engine) matchKeyword(text string) (string, bool) {
	for _, kw := range e.keywords {
		if kw.re.MatchString(text) {
			return kw.text, true
		}
	}
	if e.fuzzyThreshold <= 0 || len(e.fuzzyWords) == 0 {
		return "", false
	}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !isWordRune(r) && r != '\'' }) {
		if len([]rune(w)) < minFuzzyLen {
			continue
		}
		for _, kw := range e.fuzzyWords {
			if matchr.JaroWinkler(w, kw, false) >= e.fuzzyThreshold {
				return fmt.Sprintf("%s (matched %q)", kw, w), true
			}
		}
	}
	return "", false
}

// MinConfidence returns the low-confidence threshold.
func (e *Engine) MinConfidence() float64 { return e.minConfidence }

// TriageContact returns the contact for low-confidence requests.
func (e *Engine) TriageContact() string { return e.triage }

// Keywords returns the normalised urgency keywords.
func (e *Engine) Keywords() []string {
	out := make([]string, len(e.keywords))
	for i, k := range e.keywords {
		out[i] = k.text
	}
	return out
}

// normalise folds typographic apostrophes so "can’t wait" matches "can't wait".
func normalise(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isASCIIWord mirrors the character class RE2 uses for \b.
func isASCIIWord(r rune) bool {
	return r == '_' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}
