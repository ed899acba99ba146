// Package memstore is the in-process result cache backend.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/observability"
)

// index sets may outnumber values, one per crossed cell
const indexFactor = 16

// Store keeps values and index sets in expirable LRUs. Entries expire after
// the ttl given to New; per call ttl arguments are accepted for interface
// parity and ignored.
type Store struct {
	values *expirable.LRU[string, []byte]

	mu   sync.Mutex
	sets *expirable.LRU[string, map[string]struct{}]
}

func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 512
	}
	return &Store{
		values: expirable.NewLRU[string, []byte](size, nil, ttl),
		sets:   expirable.NewLRU[string, map[string]struct{}](size*indexFactor, nil, ttl),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.values.Get(k); ok {
			out[k] = v
		}
	}
	observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, _ time.Duration) error {
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		s.values.Add(key, append([]byte(nil), val...))
	}
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	return err
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		for _, k := range keys {
			s.values.Remove(k)
			s.removeSet(k)
		}
	}
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	return err
}

func (s *Store) SAddWithTTL(ctx context.Context, sets []string, member string, _ time.Duration) error {
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		s.mu.Lock()
		for _, name := range sets {
			m, ok := s.sets.Get(name)
			if !ok {
				m = make(map[string]struct{})
			}
			m[member] = struct{}{}
			// re-adding refreshes the expiry
			s.sets.Add(name, m)
		}
		s.mu.Unlock()
	}
	observability.ObserveCacheOp("sadd", err, time.Since(start).Seconds())
	return err
}

func (s *Store) SUnion(ctx context.Context, sets []string) ([]string, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("sunion", err, time.Since(start).Seconds())
		return nil, err
	}
	if len(sets) == 0 {
		observability.ObserveCacheOp("sunion", nil, time.Since(start).Seconds())
		return nil, nil
	}
	seen := make(map[string]struct{})
	var out []string
	s.mu.Lock()
	for _, name := range sets {
		m, ok := s.sets.Peek(name)
		if !ok {
			continue
		}
		for member := range m {
			if _, dup := seen[member]; dup {
				continue
			}
			seen[member] = struct{}{}
			out = append(out, member)
		}
	}
	s.mu.Unlock()
	observability.ObserveCacheOp("sunion", nil, time.Since(start).Seconds())
	return out, nil
}

func (s *Store) Len() int { return s.values.Len() }

func (s *Store) Close() error {
	s.values.Purge()
	s.mu.Lock()
	s.sets.Purge()
	s.mu.Unlock()
	return nil
}

func (s *Store) removeSet(name string) {
	s.mu.Lock()
	s.sets.Remove(name)
	s.mu.Unlock()
}
