// Package hashing provides an offline, deterministic embeddings provider based
// on signed feature hashing.
//
// Each text is lower-cased and tokenised. Stop words are dropped and every
// remaining token contributes a word feature, a character-trigram bundle and,
// together with its successor, a bigram feature. Features are hashed with
// xxhash into a fixed number of buckets with a hash-derived sign, and the
// result is L2-normalised.
//
// The vectors carry lexical rather than semantic similarity. They are meant for
// air-gapped deployments, evaluation runs and tests where a network model is
// not available. Identical input always yields an identical vector.
package hashing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/MrWong99/helpdesk/pkg/provider/embeddings"
)

// DefaultDimensions matches the output size of all-MiniLM-L6-v2 so that the
// hashing provider can stand in for it without config changes elsewhere.
const DefaultDimensions = 384

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider without any network calls.
// It is safe for concurrent use.
type Provider struct {
	dims          int
	trigramWeight float64
	bigramWeight  float64
	stopwords     map[string]struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithDimensions sets the output vector length. Values below 16 are rejected by New.
func WithDimensions(n int) Option {
	return func(p *Provider) { p.dims = n }
}

// WithTrigramWeight sets the total weight of the character trigrams of one
// token relative to the token itself. Zero disables trigram features.
func WithTrigramWeight(w float64) Option {
	return func(p *Provider) { p.trigramWeight = w }
}

// WithBigramWeight sets the weight of adjacent-token features. Zero disables them.
func WithBigramWeight(w float64) Option {
	return func(p *Provider) { p.bigramWeight = w }
}

// WithStopwords replaces the built-in English stop word list.
func WithStopwords(words []string) Option {
	return func(p *Provider) {
		p.stopwords = make(map[string]struct{}, len(words))
		for _, w := range words {
			p.stopwords[strings.ToLower(w)] = struct{}{}
		}
	}
}

// New creates a hashing Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		dims:          DefaultDimensions,
		trigramWeight: 0.6,
		bigramWeight:  0.5,
		stopwords:     defaultStopwords,
	}
	for _, o := range opts {
		o(p)
	}
	if p.dims < 16 {
		return nil, fmt.Errorf("hashing embeddings: dimensions must be at least 16, got %d", p.dims)
	}
	if p.trigramWeight < 0 || p.bigramWeight < 0 {
		return nil, fmt.Errorf("hashing embeddings: feature weights must not be negative")
	}
	return p, nil
}

// Embed returns the hashed feature vector for text. Text without any content
// tokens yields the zero vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vectorize(text), nil
}

// EmbedBatch embeds each text in order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vectorize(t)
	}
	return out, nil
}

// Dimensions returns the configured vector length.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID identifies the feature scheme and dimension, so cached vectors from a
// differently configured instance are never mixed in.
func (p *Provider) ModelID() string { return fmt.Sprintf("hashing-v1-%d", p.dims) }

func (p *Provider) vectorize(text string) []float32 {
	acc := make([]float64, p.dims)
	tokens := p.tokens(text)
	for i, tok := range tokens {
		p.add(acc, "w:"+tok, 1)
		if p.trigramWeight > 0 {
			grams := trigrams(tok)
			w := p.trigramWeight / math.Sqrt(float64(len(grams)))
			for _, g := range grams {
				p.add(acc, "c:"+g, w)
			}
		}
		if p.bigramWeight > 0 && i+1 < len(tokens) {
			p.add(acc, "b:"+tok+"_"+tokens[i+1], p.bigramWeight)
		}
	}

	var sum float64
	for _, x := range acc {
		sum += x * x
	}
	out := make([]float32, p.dims)
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range acc {
		out[i] = float32(x * inv)
	}
	return out
}

func (p *Provider) add(acc []float64, feature string, weight float64) {
	h := xxhash.Sum64String(feature)
	bucket := h % uint64(p.dims)
	if h>>63 == 1 {
		weight = -weight
	}
	acc[bucket] += weight
}

// tokens splits text into normalised content tokens.
func (p *Provider) tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		f = strings.TrimSuffix(f, "'s")
		if f == "" {
			continue
		}
		if _, stop := p.stopwords[f]; stop {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

// stem strips the most common English inflections. It is deliberately crude:
// both sides of every comparison go through the same function.
func stem(w string) string {
	switch {
	case len(w) > 5 && strings.HasSuffix(w, "ing"):
		return w[:len(w)-3]
	case len(w) > 4 && strings.HasSuffix(w, "ed"):
		return w[:len(w)-2]
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

func trigrams(tok string) []string {
	r := []rune("^" + tok + "$")
	if len(r) < 3 {
		return []string{string(r)}
	}
	out := make([]string, 0, len(r)-2)
	for i := 0; i+3 <= len(r); i++ {
		out = append(out, string(r[i:i+3]))
	}
	return out
}

var defaultStopwords = func() map[string]struct{} {
	words := strings.Fields(`a about am an and any are as at be been but by can
		could do does did for from get got had has have having he her him his how
		i i'm i've if in into is it it's its just me might my myself need needs
		of on or our please so some that the their them then there these they
		this to too us was we were what when where which while who will with
		would you your`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
