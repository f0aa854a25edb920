// Package journal keeps a record of the commands sent to the robot. Every
// accepted or rejected motion command is appended; the most recent entries
// are served back to clients as a resource.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/shaharia-lab/robomcp/observability"
)

// Outcomes recorded for a command.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultTable is the table SQL backends write to when none is configured.
const DefaultTable = "robot_commands"

var ErrUnknownDriver = errors.New("unknown journal driver")

// Entry is one recorded command.
type Entry struct {
	ID       string    `json:"id"`
	Tool     string    `json:"tool"`
	Joint    string    `json:"joint,omitempty"`
	Position float64   `json:"position"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Journal stores entries. Implementations are safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string // memory, sqlite or postgres
	DSN      string
	Table    string
	Capacity int // memory backend only
}

// Open builds the journal described by cfg.
func Open(ctx context.Context, cfg Config, logger observability.Logger) (Journal, error) {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryJournal(cfg.Capacity), nil
	case DriverSQLite:
		if cfg.DSN == "" {
			return nil, errors.New("sqlite journal requires a DSN")
		}
		db, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
		}
		return NewSQLiteJournal(ctx, db, cfg.Table, logger)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("postgres journal requires a DSN")
		}
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres journal: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to reach postgres journal: %w", err)
		}
		return NewPostgresJournal(ctx, db, cfg.Table, logger)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

// prepare fills in the ID and timestamp of an entry about to be stored.
func prepare(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	entry.At = entry.At.UTC()
	return entry
}

func quoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}
