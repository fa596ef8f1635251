package postgres_test

import (
	"context"
	"os"
	"slices"
	"testing"

	"github.com/MrWong99/helpdesk/pkg/embedcache"
	"github.com/MrWong99/helpdesk/pkg/embedcache/postgres"
	embmock "github.com/MrWong99/helpdesk/pkg/provider/embeddings/mock"
)

// newTestStore skips unless HELPDESK_TEST_POSTGRES_DSN points at a database
// with the pgvector extension available.
func newTestStore(t *testing.T, model string) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("HELPDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HELPDESK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	s, err := postgres.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Purge(context.Background(), model); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	return s
}

func TestStore_PutGet(t *testing.T) {
	model := "test-" + t.Name()
	s := newTestStore(t, model)
	ctx := context.Background()

	if err := s.Put(ctx, model, map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, model, map[string][]float32{"a": {0, 0, 1}}); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	got, err := s.Get(ctx, model, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Get returned %d rows, want 2", len(got))
	}
	if !slices.Equal(got["a"], []float32{0, 0, 1}) {
		t.Errorf("a = %v, want overwritten vector", got["a"])
	}
	if n, err := s.Len(ctx, model); err != nil || n != 2 {
		t.Errorf("Len = %d, %v", n, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_BacksProvider(t *testing.T) {
	inner := &embmock.Provider{
		Default:         []float32{0.6, 0.8},
		DimensionsValue: 2,
		ModelIDValue:    "test-" + t.Name(),
	}
	s := newTestStore(t, embedcache.Space(inner))
	ctx := context.Background()

	if _, err := embedcache.New(inner, s).EmbedBatch(ctx, []string{"printer", "vpn"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	// A fresh decorator over the same store models a restart.
	if _, err := embedcache.New(inner, s).EmbedBatch(ctx, []string{"printer", "vpn"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(inner.EmbedBatchCalls) != 1 {
		t.Errorf("inner EmbedBatch calls = %d, want 1", len(inner.EmbedBatchCalls))
	}
}
