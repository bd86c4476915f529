package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/klejdi94/relay/core"
	"github.com/lib/pq"
)

const defaultTableName = "relay_conversations"

// PostgresSink stores one JSONB row per conversation.
type PostgresSink struct {
	db        *sql.DB
	tableName string
}

// NewPostgresSink creates a sink on db (driver "postgres") and creates the table if missing.
func NewPostgresSink(ctx context.Context, db *sql.DB, tableName string) (*PostgresSink, error) {
	if tableName == "" {
		tableName = defaultTableName
	}
	s := &PostgresSink{db: db, tableName: tableName}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("postgres sink migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.tableName+` (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	return err
}

// LoadSnapshot implements Sink.
func (s *PostgresSink) LoadSnapshot(ctx context.Context) (map[string]core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM `+s.tableName)
	if err != nil {
		return nil, fmt.Errorf("postgres sink load: %w", err)
	}
	defer rows.Close()
	snap := make(map[string]core.Conversation)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var c core.Conversation
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("postgres sink decode %s: %w", id, err)
		}
		snap[id] = c
	}
	return snap, rows.Err()
}

// SaveSnapshot implements Sink. Rows not in snap are deleted and the rest upserted in one transaction.
func (s *PostgresSink) SaveSnapshot(ctx context.Context, snap map[string]core.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres sink begin: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.tableName+` WHERE NOT (id = ANY($1))`, pq.Array(ids)); err != nil {
		return fmt.Errorf("postgres sink prune: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+s.tableName+` (id, payload, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return fmt.Errorf("postgres sink prepare: %w", err)
	}
	defer stmt.Close()
	for id, c := range snap {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("postgres sink encode %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, raw, c.UpdatedAt); err != nil {
			return fmt.Errorf("postgres sink upsert %s: %w", id, err)
		}
	}
	return tx.Commit()
}
