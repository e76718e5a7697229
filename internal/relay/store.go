package relay

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"studysync/pkg/types"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS chat_history (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_history_session
	ON chat_history(session_id, created_at);
`

// Store persists chat history so peers can replay what was said before they
// connected. Only the relay touches the database; the client core is
// persistence-free.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the sqlite database at path. ":memory:"
// works for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database %s: %w", path, err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save records one chat envelope. The row ID is assigned here, not by the
// sender.
func (s *Store) Save(env *types.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO chat_history (id, session_id, user_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), env.SessionID, env.UserID, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history row: %w", err)
	}
	return nil
}

// Recent returns up to limit envelopes for a session, oldest first.
func (s *Store) Recent(sessionID string, limit int) ([]*types.Envelope, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM (
			SELECT payload, created_at FROM chat_history
			WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*types.Envelope
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var env types.Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			continue // a corrupt row must not break replay
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
