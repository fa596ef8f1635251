// Package vectorindex provides an immutable, build-once nearest-neighbour
// index over fixed-dimension float32 vectors.
//
// Vectors are copied into a single contiguous arena at build time and are
// addressed by slot (slot*dim). Entries keep their caller-assigned integer
// IDs, which are unique within an index. Queries are exact linear scans,
// which is the right trade-off for the corpora the help desk indexes (tens to
// low thousands of entries).
//
// An [Index] is safe for unlimited concurrent readers once [Build] returns.
package vectorindex

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/MrWong99/helpdesk/pkg/types"
)

// Metric selects how vectors are compared.
type Metric int

const (
	// Cosine compares direction only. Vectors are normalised at build time,
	// score is the cosine similarity and distance is 1 - similarity.
	Cosine Metric = iota

	// L2 uses Euclidean distance d. Score is 1/(1+d).
	L2
)

// String returns "cosine" or "l2".
func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case L2:
		return "l2"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric resolves "cosine" (or "") and "l2".
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", "cosine":
		return Cosine, nil
	case "l2", "euclidean":
		return L2, nil
	}
	return Cosine, fmt.Errorf("vectorindex: unknown metric %q: %w", s, types.ErrInvalidArgument)
}

// Entry is one (vector, payload) pair submitted to [Build].
type Entry struct {
	// ID must be unique within the index.
	ID int64

	// Vector is copied into the arena; the caller may reuse it afterwards.
	Vector []float32

	// Payload is returned untouched with every hit.
	Payload any
}

// Hit is one query result.
type Hit struct {
	ID      int64
	Payload any

	// Score is the similarity; larger is closer.
	Score float64

	// Distance is the metric distance; smaller is closer.
	Distance float64
}

// Index is an immutable arena of vectors. The zero value is an empty index.
type Index struct {
	metric   Metric
	dim      int
	arena    []float32
	ids      []int64
	payloads []any
}

// Build validates entries and copies them into a new [Index].
//
// Build fails with [types.ErrInvalidEntry] for zero-length or non-finite
// vectors, duplicate IDs, or (under [Cosine]) zero-norm vectors. It fails with
// [types.ErrDimensionMismatch] when vectors differ in length. An empty entries
// slice yields an empty, queryable index.
func Build(entries []Entry, metric Metric) (*Index, error) {
	if metric != Cosine && metric != L2 {
		return nil, fmt.Errorf("vectorindex: build: %w: metric %d", types.ErrInvalidArgument, int(metric))
	}
	idx := &Index{metric: metric}
	if len(entries) == 0 {
		return idx, nil
	}

	dim := len(entries[0].Vector)
	seen := make(map[int64]struct{}, len(entries))
	idx.dim = dim
	idx.arena = make([]float32, 0, dim*len(entries))
	idx.ids = make([]int64, 0, len(entries))
	idx.payloads = make([]any, 0, len(entries))

	for i, e := range entries {
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("vectorindex: build: entry %d (id %d): %w: zero-length vector", i, e.ID, types.ErrInvalidEntry)
		}
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("vectorindex: build: entry %d (id %d): %w: got %d, want %d", i, e.ID, types.ErrDimensionMismatch, len(e.Vector), dim)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("vectorindex: build: entry %d: %w: duplicate id %d", i, types.ErrInvalidEntry, e.ID)
		}
		seen[e.ID] = struct{}{}

		norm, ok := norm(e.Vector)
		if !ok {
			return nil, fmt.Errorf("vectorindex: build: entry %d (id %d): %w: non-finite component", i, e.ID, types.ErrInvalidEntry)
		}
		start := len(idx.arena)
		idx.arena = append(idx.arena, e.Vector...)
		if metric == Cosine {
			if norm == 0 {
				return nil, fmt.Errorf("vectorindex: build: entry %d (id %d): %w: zero-norm vector", i, e.ID, types.ErrInvalidEntry)
			}
			scale(idx.arena[start:], 1/norm)
		}
		idx.ids = append(idx.ids, e.ID)
		idx.payloads = append(idx.payloads, e.Payload)
	}
	return idx, nil
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.ids)
}

// Dimensions returns the vector length, or 0 for an empty index.
func (idx *Index) Dimensions() int {
	if idx == nil {
		return 0
	}
	return idx.dim
}

// Metric returns the metric the index was built with.
func (idx *Index) Metric() Metric {
	if idx == nil {
		return Cosine
	}
	return idx.metric
}

// Query returns at most k hits ordered by score descending, ties broken by
// ascending entry ID. An empty index yields an empty result. The query vector
// must match the index dimension.
func (idx *Index) Query(vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("vectorindex: query: %w: k must be positive, got %d", types.ErrInvalidArgument, k)
	}
	if idx.Len() == 0 {
		return []Hit{}, nil
	}
	if len(vec) != idx.dim {
		return nil, fmt.Errorf("vectorindex: query: %w: got %d, want %d", types.ErrDimensionMismatch, len(vec), idx.dim)
	}

	q := vec
	if idx.metric == Cosine {
		n, ok := norm(vec)
		if !ok {
			return nil, fmt.Errorf("vectorindex: query: %w: non-finite component", types.ErrInvalidArgument)
		}
		if n == 0 {
			// A zero query has no direction; every entry is equally (un)related.
			n = 1
		}
		q = make([]float32, len(vec))
		copy(q, vec)
		scale(q, 1/n)
	}

	hits := make([]Hit, 0, idx.Len())
	for slot := range idx.ids {
		row := idx.arena[slot*idx.dim : (slot+1)*idx.dim]
		var h Hit
		switch idx.metric {
		case Cosine:
			sim := clamp(dot(q, row), -1, 1)
			h.Score, h.Distance = sim, 1-sim
		case L2:
			d := math.Sqrt(sqDist(q, row))
			h.Score, h.Distance = 1/(1+d), d
		}
		h.ID = idx.ids[slot]
		h.Payload = idx.payloads[slot]
		hits = append(hits, h)
	}

	slices.SortFunc(hits, compareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func compareHits(a, b Hit) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func sqDist(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}

// norm returns the Euclidean norm of v and false if any component is NaN or Inf.
func norm(v []float32) (float64, bool) {
	var s float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		s += f * f
	}
	return math.Sqrt(s), true
}

func scale(v []float32, f float64) {
	for i := range v {
		v[i] = float32(float64(v[i]) * f)
	}
}

func clamp(x, lo, hi float64) float64 {
	return max(lo, min(hi, x))
}
