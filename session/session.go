// Package session persists ConversationState between turns.
package session

import (
	"context"
	"sync"

	"nutritionagent"
)

// Store loads and saves conversation state with optimistic versioning. Save succeeds only when
// the stored version equals state.Version and returns the state with the version bumped.
// A mismatch fails with nutritionagent.ErrStateConflict.
type Store interface {
	Load(ctx context.Context, sessionID string) (nutritionagent.ConversationState, error)
	Save(ctx context.Context, state nutritionagent.ConversationState) (nutritionagent.ConversationState, error)
	Delete(ctx context.Context, sessionID string) error
}

// Locks serialises turns per session inside one process.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the session is free and returns its unlock function.
func (l *Locks) Lock(sessionID string) func() {
	l.mu.Lock()
	e, ok := l.locks[sessionID]
	if !ok {
		e = &lockEntry{}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}
