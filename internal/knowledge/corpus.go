// Package knowledge ingests the help desk's knowledge sources (markdown
// documents, PDFs and structured YAML) into an ordered corpus of
// [types.KnowledgeChunk] values ready for indexing.
//
// Chunk IDs are assigned sequentially per source in ingestion order unless
// the source data pins them explicitly, so re-ingesting the same inputs
// yields the same IDs.
package knowledge

import (
	"fmt"
	"strings"

	"github.com/MrWong99/helpdesk/pkg/types"
)

// Corpus is an append-only, ordered collection of knowledge chunks.
// It is not safe for concurrent mutation; build it once at start-up.
type Corpus struct {
	chunks  []types.KnowledgeChunk
	nextID  map[types.Source]int64
	seenIDs map[types.Source]map[int64]struct{}
	chunker Chunker
}

// NewCorpus returns an empty corpus that splits long texts with c.
func NewCorpus(c Chunker) *Corpus {
	return &Corpus{
		nextID:  make(map[types.Source]int64),
		seenIDs: make(map[types.Source]map[int64]struct{}),
		chunker: c,
	}
}

// Add appends a chunk. A zero ID is replaced by the next free ID for the
// chunk's source. Explicit IDs must be unique within their source.
func (c *Corpus) Add(ch types.KnowledgeChunk) (types.KnowledgeChunk, error) {
	if !ch.Source.Valid() {
		return ch, fmt.Errorf("knowledge: chunk %q: unknown source %q", ch.Section, ch.Source)
	}
	seen := c.seenIDs[ch.Source]
	if seen == nil {
		seen = make(map[int64]struct{})
		c.seenIDs[ch.Source] = seen
	}
	if ch.ID == 0 {
		ch.ID = c.nextID[ch.Source] + 1
		for {
			if _, taken := seen[ch.ID]; !taken {
				break
			}
			ch.ID++
		}
	}
	if ch.ID < 0 {
		return ch, fmt.Errorf("knowledge: %s chunk %d: id must be positive", ch.Source, ch.ID)
	}
	if _, dup := seen[ch.ID]; dup {
		return ch, fmt.Errorf("knowledge: %s chunk %d: duplicate id", ch.Source, ch.ID)
	}
	seen[ch.ID] = struct{}{}
	c.nextID[ch.Source] = max(c.nextID[ch.Source], ch.ID)
	c.chunks = append(c.chunks, ch)
	return ch, nil
}

// AddText splits text with the corpus chunker and adds one chunk per piece,
// all labelled with section. Blank text still produces a single empty chunk,
// mirroring a header without a body in the source document.
func (c *Corpus) AddText(source types.Source, section, text string) error {
	pieces, err := c.chunker.Split(text)
	if err != nil {
		return fmt.Errorf("knowledge: %s %q: %w", source, section, err)
	}
	for _, piece := range pieces {
		if _, err := c.Add(types.KnowledgeChunk{Source: source, Section: section, Text: piece}); err != nil {
			return err
		}
	}
	return nil
}

// Chunks returns the chunks in ingestion order, including blank ones.
func (c *Corpus) Chunks() []types.KnowledgeChunk {
	out := make([]types.KnowledgeChunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// Len returns the number of chunks, including blank ones.
func (c *Corpus) Len() int { return len(c.chunks) }

// Indexable returns the chunks that carry text. Blank chunks hold no
// retrievable signal.
func Indexable(chunks []types.KnowledgeChunk) []types.KnowledgeChunk {
	out := make([]types.KnowledgeChunk, 0, len(chunks))
	for _, ch := range chunks {
		if strings.TrimSpace(ch.Text) != "" {
			out = append(out, ch)
		}
	}
	return out
}
