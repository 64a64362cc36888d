package tools

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryingSource retries transient provider failures with exponential backoff.
type RetryingSource struct {
	Source
	maxTries uint
	initial  time.Duration
}

func NewRetryingSource(src Source, maxTries uint, initial time.Duration) *RetryingSource {
	if maxTries == 0 {
		maxTries = 1
	}
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	return &RetryingSource{Source: src, maxTries: maxTries, initial: initial}
}

func (s *RetryingSource) Query(ctx context.Context, query string) ([]Match, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initial
	b.MaxInterval = 2 * time.Second

	attempt := 0
	op := func() ([]Match, error) {
		attempt++
		matches, err := s.Source.Query(ctx, query)
		if err == nil {
			return matches, nil
		}
		if !isTransient(err) {
			return nil, backoff.Permanent(err)
		}
		slog.Warn("SOURCE: Transient provider failure", "source", s.Name(), "attempt", attempt, "error", err)
		return nil, err
	}

	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxTries))
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	// Anything else is a transport failure.
	return true
}
