package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"nutritionagent"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes serialised.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("SESSION: SQLite store ready", "path", dbPath)
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        version INTEGER NOT NULL,
        state TEXT NOT NULL,
        updated_at DATETIME NOT NULL
    );
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (nutritionagent.ConversationState, error) {
	var (
		version int64
		raw     string
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, state FROM sessions WHERE id = ?`, sessionID).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nutritionagent.ConversationState{SessionID: sessionID}, nil
	}
	if err != nil {
		return nutritionagent.ConversationState{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var state nutritionagent.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nutritionagent.ConversationState{}, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	state.SessionID = sessionID
	state.Version = version
	return state, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state nutritionagent.ConversationState) (nutritionagent.ConversationState, error) {
	saved := state.Clone()
	saved.Version = state.Version + 1
	saved.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(saved)
	if err != nil {
		return nutritionagent.ConversationState{}, fmt.Errorf("failed to encode session %s: %w", state.SessionID, err)
	}

	var res sql.Result
	if state.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, version, state, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			state.SessionID, saved.Version, string(data), saved.UpdatedAt)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET version = ?, state = ?, updated_at = ? WHERE id = ? AND version = ?`,
			saved.Version, string(data), saved.UpdatedAt, state.SessionID, state.Version)
	}
	if err != nil {
		return nutritionagent.ConversationState{}, fmt.Errorf("failed to save session %s: %w", state.SessionID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nutritionagent.ConversationState{}, fmt.Errorf("failed to save session %s: %w", state.SessionID, err)
	}
	if n == 0 {
		return nutritionagent.ConversationState{}, fmt.Errorf("%w: session %s is no longer at version %d",
			nutritionagent.ErrStateConflict, state.SessionID, state.Version)
	}

	slog.Debug("SESSION: Saved state", "session_id", state.SessionID, "version", saved.Version, "questions_pending", saved.QuestionsPending)
	return saved, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}
