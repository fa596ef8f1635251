package knowledge

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// Default chunking parameters, in runes.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 128
)

// separators are tried in order: paragraphs, lines, sentences, words and
// finally single runes.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", " ", ""}

// Chunker splits long passages into overlapping windows of at most Size runes.
// Consecutive windows share up to Overlap runes.
type Chunker struct {
	Size    int
	Overlap int
}

// DefaultChunker returns a Chunker with [DefaultChunkSize] and [DefaultChunkOverlap].
func DefaultChunker() Chunker {
	return Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Split returns the chunks of text, trimmed of surrounding whitespace. Text
// that fits in one window is returned as a single chunk, even when blank.
func (c Chunker) Split(text string) ([]string, error) {
	size := c.Size
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := min(max(c.Overlap, 0), size/2)

	if utf8.RuneCountInString(text) <= size {
		return []string{strings.TrimSpace(text)}, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(separators),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("knowledge: split text: %w", err)
	}

	out := pieces[:0]
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
