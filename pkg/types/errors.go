package types

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by the request-understanding pipeline. Callers match
// them with [errors.Is]; producers wrap them with context.
var (
	// ErrEmptyRequest is returned for blank or whitespace-only request text.
	ErrEmptyRequest = errors.New("empty request")

	// ErrEmbeddingUnavailable is returned when the embeddings provider fails.
	// It is never retried inside the pipeline.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrDimensionMismatch is returned when vectors of different lengths meet.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidEntry is returned by index builds for unusable entries.
	ErrInvalidEntry = errors.New("invalid index entry")

	// ErrInvalidArgument is returned for out-of-range arguments such as k <= 0.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout is returned when a caller-supplied deadline expires.
	ErrTimeout = errors.New("timeout")
)

// EmbedError classifies a failed embeddings call. Deadline expiry becomes
// [ErrTimeout]; everything else becomes [ErrEmbeddingUnavailable]. The
// original error stays in the chain.
func EmbedError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrEmbeddingUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
}
