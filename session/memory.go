package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nutritionagent"
)

type MemoryStore struct {
	mu     sync.Mutex
	states map[string]nutritionagent.ConversationState
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]nutritionagent.ConversationState),
		now:    time.Now,
	}
}

// Load returns a fresh state at version 0 for an unknown session.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (nutritionagent.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[sessionID]
	if !ok {
		return nutritionagent.ConversationState{SessionID: sessionID}, nil
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, state nutritionagent.ConversationState) (nutritionagent.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.states[state.SessionID].Version
	if current != state.Version {
		return nutritionagent.ConversationState{}, fmt.Errorf("%w: session %s is at version %d, not %d",
			nutritionagent.ErrStateConflict, state.SessionID, current, state.Version)
	}

	saved := state.Clone()
	saved.Version++
	saved.UpdatedAt = s.now()
	s.states[state.SessionID] = saved

	slog.Debug("SESSION: Saved state", "session_id", state.SessionID, "version", saved.Version, "questions_pending", saved.QuestionsPending)
	return saved.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	return nil
}
