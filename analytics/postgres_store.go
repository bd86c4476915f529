package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const defaultTableName = "completion_runs"

// PostgresStore keeps runs in a PostgreSQL table and aggregates in SQL.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// NewPostgresStore creates a store on db (driver "postgres") and creates the table if missing.
func NewPostgresStore(ctx context.Context, db *sql.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = defaultTableName
	}
	s := &PostgresStore{db: db, tableName: tableName}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("analytics: migrate %s: %w", tableName, err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
		id BIGSERIAL PRIMARY KEY,
		provider_id TEXT NOT NULL,
		model TEXT NOT NULL,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		output_chars INT NOT NULL DEFAULT 0,
		deltas INT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT false,
		cancelled BOOLEAN NOT NULL DEFAULT false,
		at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_provider_model ON ` + s.tableName + ` (provider_id, model);
	CREATE INDEX IF NOT EXISTS idx_` + s.tableName + `_at ON ` + s.tableName + ` (at);`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, r RunRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.tableName+` (provider_id, model, latency_ms, output_chars, deltas, success, cancelled, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ProviderID, r.Model, r.LatencyMs, r.OutputChars, r.Deltas, r.Success, r.Cancelled, r.At)
	return err
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	query, args := s.buildQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		var k sql.NullString
		if err := rows.Scan(&k, &a.Runs, &a.SuccessCount, &a.CancelledCount, &a.AvgLatencyMs, &a.TotalOutputChars); err != nil {
			return nil, err
		}
		a.Key = "all"
		if k.Valid {
			a.Key = k.String
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) buildQuery(q Query) (string, []interface{}) {
	args := []interface{}{}
	where := "1=1"
	n := 1
	if q.ProviderID != "" {
		args = append(args, q.ProviderID)
		where += fmt.Sprintf(" AND provider_id = $%d", n)
		n++
	}
	if q.Model != "" {
		args = append(args, q.Model)
		where += fmt.Sprintf(" AND model = $%d", n)
		n++
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		where += fmt.Sprintf(" AND at >= $%d", n)
		n++
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		where += fmt.Sprintf(" AND at <= $%d", n)
		n++
	}

	groupCol := "NULL"
	switch q.GroupBy {
	case GroupProvider:
		groupCol = "provider_id"
	case GroupModel:
		groupCol = "provider_id || '/' || model"
	case GroupDay:
		groupCol = "to_char(at AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	case GroupHour:
		groupCol = "to_char(at AT TIME ZONE 'UTC', 'YYYY-MM-DD-HH24')"
	}
	args = append(args, q.limit())

	query := `SELECT ` + groupCol + ` AS key,
		COUNT(*)::bigint AS runs,
		COUNT(*) FILTER (WHERE success)::bigint AS success_count,
		COUNT(*) FILTER (WHERE cancelled)::bigint AS cancelled_count,
		COALESCE(AVG(latency_ms), 0) AS avg_latency_ms,
		COALESCE(SUM(output_chars), 0)::bigint AS total_output_chars
		FROM ` + s.tableName + `
		WHERE ` + where + `
		GROUP BY ` + groupCol + `
		ORDER BY runs DESC, key ASC
		LIMIT ` + fmt.Sprintf("$%d", n)
	return query, args
}
