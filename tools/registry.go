package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"nutritionagent"
)

// Registry queries its sources in authority order. Estimate sources only run when
// every higher-authority source came back empty.
type Registry struct {
	sources []Source
}

func NewRegistry(sources ...Source) *Registry {
	ordered := append([]Source(nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Authority() > ordered[j].Authority()
	})
	return &Registry{sources: ordered}
}

func (r *Registry) Name() string { return "registry" }

func (r *Registry) Authority() Authority {
	if len(r.sources) == 0 {
		return 0
	}
	return r.sources[0].Authority()
}

// GetSources returns the sources in query order
func (r *Registry) GetSources() []Source {
	return append([]Source(nil), r.sources...)
}

// GetSource retrieves a source by name
func (r *Registry) GetSource(name string) (Source, error) {
	for _, s := range r.sources {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("source %q not found in registry", name)
}

// Query aggregates matches from every source. It fails only when no source
// produced a match; provider errors are joined under ErrProvider.
func (r *Registry) Query(ctx context.Context, query string) ([]Match, error) {
	var (
		matches []Match
		errs    []error
	)

	for _, s := range r.sources {
		if s.Authority() == AuthorityEstimate && len(matches) > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		found, err := s.Query(ctx, query)
		if err != nil {
			slog.Warn("SOURCE: Provider query failed", "source", s.Name(), "query", query, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		matches = append(matches, found...)
	}

	if len(matches) > 0 {
		return matches, nil
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", nutritionagent.ErrProvider, errors.Join(errs...))
	}
	return nil, nutritionagent.ErrLookupMiss
}
