package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shaharia-lab/robomcp/observability"
)

// PostgresJournal stores entries in a PostgreSQL table through lib/pq.
type PostgresJournal struct {
	db     *sql.DB
	table  string
	logger observability.Logger
}

// NewPostgresJournal creates the journal table in db if needed. The journal
// owns db and closes it on Close or when schema setup fails.
func NewPostgresJournal(ctx context.Context, db *sql.DB, table string, logger observability.Logger) (*PostgresJournal, error) {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	j := &PostgresJournal{
		db:     db,
		table:  quoteIdent(table),
		logger: logger,
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tool TEXT NOT NULL,
		joint TEXT NOT NULL DEFAULT '',
		position DOUBLE PRECISION NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL
	)`, j.table)

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal table: %w", err)
	}
	return j, nil
}

func (j *PostgresJournal) Record(ctx context.Context, entry Entry) error {
	entry = prepare(entry)

	insertSQL := fmt.Sprintf(`
	INSERT INTO %s (id, tool, joint, position, outcome, detail, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`, j.table)

	_, err := j.db.ExecContext(ctx, insertSQL,
		entry.ID, entry.Tool, entry.Joint, entry.Position, entry.Outcome, entry.Detail, entry.At)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry (id: %s): %w", entry.ID, err)
	}
	return nil
}

func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultCapacity
	}

	querySQL := fmt.Sprintf(`
	SELECT id, tool, joint, position, outcome, detail, recorded_at
	FROM %s
	ORDER BY seq DESC
	LIMIT $1`, j.table)

	rows, err := j.db.QueryContext(ctx, querySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (j *PostgresJournal) Close() error {
	return j.db.Close()
}
