package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klejdi94/relay/core"
	_ "modernc.org/sqlite"
)

// SQLiteSink stores one row per conversation in a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (or creates) the database at path.
func OpenSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite sink: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: open: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	for _, q := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite sink: init: %w", err)
		}
	}
	return &SQLiteSink{db: db}, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// LoadSnapshot implements Sink.
func (s *SQLiteSink) LoadSnapshot(ctx context.Context) (map[string]core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink load: %w", err)
	}
	defer rows.Close()
	snap := make(map[string]core.Conversation)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var c core.Conversation
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("sqlite sink decode %s: %w", id, err)
		}
		snap[id] = c
	}
	return snap, rows.Err()
}

// SaveSnapshot implements Sink by rewriting the table in one transaction.
func (s *SQLiteSink) SaveSnapshot(ctx context.Context, snap map[string]core.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite sink begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("sqlite sink clear: %w", err)
	}
	for id, c := range snap {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("sqlite sink encode %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, payload, updated_at) VALUES (?, ?, ?)`,
			id, string(raw), c.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("sqlite sink insert %s: %w", id, err)
		}
	}
	return tx.Commit()
}
