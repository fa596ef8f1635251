// Package postgres provides a PostgreSQL [embedcache.Store] backed by a
// pgvector column.
//
// The vector column carries no fixed dimension, so one table serves every
// embedding model; rows are namespaced by the model string.
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	cached := embedcache.New(provider, store)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/helpdesk/pkg/embedcache"
)

var _ embedcache.Store = (*Store)(nil)

const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embedding_cache (
    model       TEXT         NOT NULL,
    key         TEXT         NOT NULL,
    embedding   vector       NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (model, key)
);
`

// Store is a pgvector-backed [embedcache.Store]. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, registers the pgvector types on every connection and
// runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("embedcache postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedcache postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("embedcache postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the cache table. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("embedcache postgres: migrate: %w", err)
	}
	return nil
}

type row struct {
	key string
	vec []float32
}

// Get implements [embedcache.Store].
func (s *Store) Get(ctx context.Context, model string, keys []string) (map[string][]float32, error) {
	const q = `SELECT key, embedding FROM embedding_cache WHERE model = $1 AND key = ANY($2)`
	rows, err := s.pool.Query(ctx, q, model, keys)
	if err != nil {
		return nil, fmt.Errorf("embedcache postgres: get: %w", err)
	}
	found, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
		var (
			out row
			vec pgvector.Vector
		)
		if err := r.Scan(&out.key, &vec); err != nil {
			return row{}, err
		}
		out.vec = vec.Slice()
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedcache postgres: scan rows: %w", err)
	}
	out := make(map[string][]float32, len(found))
	for _, r := range found {
		out[r.key] = r.vec
	}
	return out, nil
}

// Put implements [embedcache.Store]. All rows are sent in one batch.
func (s *Store) Put(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	const q = `
		INSERT INTO embedding_cache (model, key, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (model, key) DO UPDATE SET
		    embedding  = EXCLUDED.embedding,
		    created_at = now()`

	batch := &pgx.Batch{}
	for k, v := range vectors {
		batch.Queue(q, model, k, pgvector.NewVector(v))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("embedcache postgres: put: %w", err)
	}
	return nil
}

// Len returns the number of vectors stored for model.
func (s *Store) Len(ctx context.Context, model string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM embedding_cache WHERE model = $1`, model).Scan(&n); err != nil {
		return 0, fmt.Errorf("embedcache postgres: count: %w", err)
	}
	return n, nil
}

// Purge deletes every vector stored for model.
func (s *Store) Purge(ctx context.Context, model string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM embedding_cache WHERE model = $1`, model); err != nil {
		return fmt.Errorf("embedcache postgres: purge: %w", err)
	}
	return nil
}

// Ping checks connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }
