// Package category holds the static per-category routing table: labels,
// contacts, forced-escalation policy, classifier exemplars, escalation
// trigger phrases and the knowledge sources each category draws on.
//
// The table is loaded once at start-up (from YAML or the embedded defaults)
// and is immutable afterwards, so it is safe for concurrent readers.
package category

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/MrWong99/helpdesk/pkg/types"
)

// Link is a titled self-help resource.
type Link struct {
	Title string `yaml:"title" json:"title"`
	URL   string `yaml:"url"   json:"url"`
}

// Entry is the configuration of one category.
type Entry struct {
	ID          types.Category `yaml:"id"          json:"id"`
	Label       string         `yaml:"label"       json:"label"`
	Description string         `yaml:"description" json:"description,omitempty"`

	// Team is the human team requests in this category are routed to.
	Team string `yaml:"team" json:"team,omitempty"`

	// Contact is the default escalation contact.
	Contact string `yaml:"contact" json:"contact"`

	// AlwaysEscalate forces every request in this category to a human,
	// regardless of confidence.
	AlwaysEscalate bool `yaml:"always_escalate" json:"always_escalate"`

	// ResolutionTime is the typical time to resolution, shown to users.
	ResolutionTime string `yaml:"resolution_time" json:"resolution_time,omitempty"`

	// Exemplars seed the classifier index.
	Exemplars []string `yaml:"exemplars" json:"-"`

	// Triggers are phrases that escalate a request in this category.
	Triggers []string `yaml:"triggers" json:"triggers,omitempty"`

	// Sources restricts category-scoped retrieval. Empty means all sources.
	Sources []types.Source `yaml:"sources" json:"sources,omitempty"`

	SelfHelp []Link `yaml:"self_help" json:"self_help,omitempty"`
}

// Exemplar is one labeled utterance, flattened from the table for indexing.
type Exemplar struct {
	Category types.Category
	Text     string
}

// Table maps every [types.Category] to its [Entry].
type Table struct {
	entries map[types.Category]*Entry
	order   []types.Category
}

// NewTable validates entries and builds a Table. Every category in
// [types.Categories] must be present exactly once and carry a contact.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{entries: make(map[types.Category]*Entry, len(entries))}
	var errs []error
	for i := range entries {
		e := entries[i]
		if !e.ID.Valid() {
			errs = append(errs, fmt.Errorf("entries[%d]: invalid category id %d", i, uint8(e.ID)))
			continue
		}
		if _, dup := t.entries[e.ID]; dup {
			errs = append(errs, fmt.Errorf("entries[%d]: duplicate category %q", i, e.ID))
			continue
		}
		if err := normalise(&e); err != nil {
			errs = append(errs, fmt.Errorf("category %q: %w", e.ID, err))
		}
		t.entries[e.ID] = &e
	}
	for _, c := range types.Categories() {
		if _, ok := t.entries[c]; !ok {
			errs = append(errs, fmt.Errorf("category %q: missing from table", c))
			continue
		}
		t.order = append(t.order, c)
	}
	if len(t.Exemplars()) == 0 && len(errs) == 0 {
		errs = append(errs, errors.New("no category has any exemplars"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("category: %w", err)
	}

	for _, c := range t.order {
		if c != types.GeneralInquiry && len(t.entries[c].Exemplars) == 0 {
			slog.Warn("category: no exemplars; this category can never be predicted", "category", c.String())
		}
	}
	return t, nil
}

func normalise(e *Entry) error {
	var errs []error
	e.Label = strings.TrimSpace(e.Label)
	if e.Label == "" {
		e.Label = strings.ReplaceAll(e.ID.String(), "_", " ")
	}
	e.Contact = strings.TrimSpace(e.Contact)
	if e.Contact == "" {
		errs = append(errs, errors.New("contact is required"))
	}

	exemplars := e.Exemplars[:0:0]
	for j, x := range e.Exemplars {
		x = strings.TrimSpace(x)
		if x == "" {
			errs = append(errs, fmt.Errorf("exemplars[%d] is blank", j))
			continue
		}
		exemplars = append(exemplars, x)
	}
	e.Exemplars = exemplars

	for j, tr := range e.Triggers {
		if strings.TrimSpace(tr) == "" {
			errs = append(errs, fmt.Errorf("triggers[%d] is blank", j))
		}
	}
	for j, s := range e.Sources {
		if !s.Valid() {
			errs = append(errs, fmt.Errorf("sources[%d]: unknown source %q", j, s))
		}
	}
	if len(e.Sources) == 0 {
		e.Sources = types.Sources()
	}
	return errors.Join(errs...)
}

// Get returns the entry for c. The bool is false only for invalid categories.
func (t *Table) Get(c types.Category) (Entry, bool) {
	e, ok := t.entries[c]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MustGet returns the entry for c and panics on an invalid category. Valid
// categories are always present in a Table built by NewTable.
func (t *Table) MustGet(c types.Category) Entry {
	e, ok := t.Get(c)
	if !ok {
		panic(fmt.Sprintf("category: no entry for %v", c))
	}
	return e
}

// All returns every entry in category declaration order.
func (t *Table) All() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, c := range t.order {
		out = append(out, *t.entries[c])
	}
	return out
}

// Exemplars returns every exemplar, grouped by category in declaration order.
func (t *Table) Exemplars() []Exemplar {
	var out []Exemplar
	for _, c := range types.Categories() {
		e, ok := t.entries[c]
		if !ok {
			continue
		}
		for _, x := range e.Exemplars {
			out = append(out, Exemplar{Category: c, Text: x})
		}
	}
	return out
}

// AllowsSource reports whether chunks from s are relevant to category c.
func (t *Table) AllowsSource(c types.Category, s types.Source) bool {
	e, ok := t.entries[c]
	if !ok {
		return false
	}
	return slices.Contains(e.Sources, s)
}
