// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to a dense float32 vector. The help desk uses
// one provider to embed category exemplars and knowledge chunks at start-up and
// to embed every incoming request. Vectors are only comparable when they come
// from the same model, so the pipeline records [Provider.ModelID] alongside
// every index it builds.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider must share the same dimensionality
// (returned by Dimensions). Identical input must produce identical output;
// classification determinism depends on it.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails or
	// ctx is cancelled. The text is passed through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in as few provider calls
	// as possible. The i-th result corresponds to texts[i]. On error the whole
	// result is nil; partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector this provider produces.
	Dimensions() int

	// ModelID returns the model identifier (e.g. "all-minilm",
	// "text-embedding-3-small"). Two providers with the same ModelID and
	// Dimensions produce comparable vectors.
	ModelID() string
}
