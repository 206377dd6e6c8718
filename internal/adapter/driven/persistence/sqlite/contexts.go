// Package sqlite persists conversation contexts in a SQLite database so
// they outlive the process.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type ContextStore struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*ContextStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS conversation_contexts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		window_id  TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		call_id    TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create contexts table: %w", err)
	}

	return &ContextStore{db: db}, nil
}

func (s *ContextStore) Close() error {
	return s.db.Close()
}

// AddConversationContext records a context. Write failures are logged, the
// call goes on without the record.
func (s *ContextStore) AddConversationContext(windowID domain.WindowID, sessionID, callID string) {
	_, err := s.db.Exec(`INSERT INTO conversation_contexts (window_id, session_id, call_id, created_at)
		VALUES (?, ?, ?, ?)`,
		windowID.String(), sessionID, callID, time.Now().UnixMilli())
	if err != nil {
		log.Error().Err(err).Str("window_id", windowID.String()).Msg("Failed to record conversation context")
	}
}

// Contexts returns the recorded contexts, newest first.
func (s *ContextStore) Contexts(ctx context.Context) ([]domain.ConversationContext, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT window_id, session_id, call_id
		FROM conversation_contexts ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query contexts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConversationContext, 0)
	for rows.Next() {
		var (
			c        domain.ConversationContext
			windowID string
		)
		if err := rows.Scan(&windowID, &c.SessionID, &c.CallID); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		c.WindowID = domain.WindowID(windowID)
		out = append(out, c)
	}
	return out, rows.Err()
}
