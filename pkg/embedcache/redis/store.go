// Package redis provides a Redis [embedcache.Store].
//
// Each vector is one string key, "helpdesk:emb:<model>:<key>", holding the
// little-endian float32 encoding of the vector. Entries optionally expire, so
// a shared Redis does not accumulate vectors of retired models.
//
//	store, err := redis.New(ctx, "redis://localhost:6379/0", redis.WithTTL(720*time.Hour))
//	if err != nil { … }
//	defer store.Close()
//	cached := embedcache.New(provider, store)
package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/helpdesk/pkg/embedcache"
)

// KeyPrefix namespaces every key written by the store.
const KeyPrefix = "helpdesk:emb:"

var _ embedcache.Store = (*Store)(nil)

// Store is a Redis-backed [embedcache.Store]. It is safe for concurrent use.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL expires entries d after they were last written. Zero, the
// default, keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = max(d, 0) }
}

// New connects to the Redis server at url and verifies the connection.
func New(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ro, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("embedcache redis: parse url: %w", err)
	}
	client := goredis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("embedcache redis: ping: %w", err)
	}
	return NewFromClient(client, opts...), nil
}

// NewFromClient wraps an existing client. Close closes the client.
func NewFromClient(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, o := range opts {
		o(s)
	}
	return s
}

func redisKey(model, key string) string {
	return KeyPrefix + model + ":" + key
}

// Get implements [embedcache.Store] with a single MGET. Values that do not
// decode to a vector are treated as misses.
func (s *Store) Get(ctx context.Context, model string, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = redisKey(model, k)
	}
	vals, err := s.client.MGet(ctx, rkeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("embedcache redis: get: %w", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if vec, ok := decode(raw); ok {
			out[keys[i]] = vec
		}
	}
	return out, nil
}

// Put implements [embedcache.Store]. All writes share one pipeline.
func (s *Store) Put(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for k, v := range vectors {
			p.Set(ctx, redisKey(model, k), encode(v), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("embedcache redis: put: %w", err)
	}
	return nil
}

// purgeBatch is the SCAN hint and the number of keys per DEL.
const purgeBatch = 256

// Purge deletes every vector stored for model. The scan completes before the
// first delete; deleting mid-scan lets the keyspace shift under the cursor.
func (s *Store) Purge(ctx context.Context, model string) error {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisKey(model, "*"), purgeBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("embedcache redis: purge: scan: %w", err)
	}
	for start := 0; start < len(keys); start += purgeBatch {
		end := min(start+purgeBatch, len(keys))
		if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("embedcache redis: purge: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(raw string) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	b := []byte(raw)
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
