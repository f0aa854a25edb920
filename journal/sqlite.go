package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shaharia-lab/robomcp/observability"
)

// SQLiteJournal stores entries in a SQLite table.
type SQLiteJournal struct {
	db     *sql.DB
	table  string
	mu     sync.Mutex // sqlite allows a single writer
	logger observability.Logger
}

// NewSQLiteJournal creates the journal table in db if needed. The journal
// owns db and closes it on Close or when schema setup fails.
func NewSQLiteJournal(ctx context.Context, db *sql.DB, table string, logger observability.Logger) (*SQLiteJournal, error) {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	j := &SQLiteJournal{
		db:     db,
		table:  quoteIdent(table),
		logger: logger,
	}

	if err := j.initSchema(ctx, table); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema(ctx context.Context, table string) error {
	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tool TEXT NOT NULL,
		joint TEXT NOT NULL DEFAULT '',
		position REAL NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME NOT NULL
	);`, j.table)

	createIndexSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (recorded_at);`,
		quoteIdent("idx_"+table+"_recorded_at"), j.table)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create journal table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createIndexSQL); err != nil {
		j.logger.WithErr(err).Warn("Failed to create journal timestamp index")
	}

	return tx.Commit()
}

func (j *SQLiteJournal) Record(ctx context.Context, entry Entry) error {
	entry = prepare(entry)

	j.mu.Lock()
	defer j.mu.Unlock()

	insertSQL := fmt.Sprintf(`
	INSERT INTO %s (id, tool, joint, position, outcome, detail, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`, j.table)

	_, err := j.db.ExecContext(ctx, insertSQL,
		entry.ID, entry.Tool, entry.Joint, entry.Position, entry.Outcome, entry.Detail, entry.At)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry (id: %s): %w", entry.ID, err)
	}
	return nil
}

func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultCapacity
	}

	querySQL := fmt.Sprintf(`
	SELECT id, tool, joint, position, outcome, detail, recorded_at
	FROM %s
	ORDER BY seq DESC
	LIMIT ?`, j.table)

	rows, err := j.db.QueryContext(ctx, querySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Close closes the database connection
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Tool, &e.Joint, &e.Position, &e.Outcome, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.At = e.At.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}
	return entries, nil
}
