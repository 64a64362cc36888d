package tools

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedSource memoizes successful, non-empty lookups of the wrapped source.
type CachedSource struct {
	Source
	cache *lru.Cache[string, []Match]
}

func NewCachedSource(src Source, size int) (*CachedSource, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, []Match](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache for %s: %w", src.Name(), err)
	}
	return &CachedSource{Source: src, cache: cache}, nil
}

func (s *CachedSource) Query(ctx context.Context, query string) ([]Match, error) {
	key := NormalizeQuery(query)
	if hit, ok := s.cache.Get(key); ok {
		slog.Debug("SOURCE: Cache hit", "source", s.Name(), "query", key)
		return copyMatches(hit), nil
	}

	matches, err := s.Source.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		s.cache.Add(key, copyMatches(matches))
	}
	return matches, nil
}

func copyMatches(in []Match) []Match {
	out := make([]Match, len(in))
	for i, m := range in {
		others := make(map[string]float64, len(m.Others))
		for k, v := range m.Others {
			others[k] = v
		}
		m.Others = others
		out[i] = m
	}
	return out
}
