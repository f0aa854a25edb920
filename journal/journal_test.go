package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/robomcp/observability"
)

func TestMemoryJournal_Recent(t *testing.T) {
	tests := []struct {
		name      string
		capacity  int
		records   int
		limit     int
		wantTools []string
	}{
		{name: "empty", capacity: 3, limit: 5, wantTools: []string{}},
		{name: "newest first", capacity: 5, records: 3, limit: 10, wantTools: []string{"cmd-2", "cmd-1", "cmd-0"}},
		{name: "limit applied", capacity: 5, records: 4, limit: 2, wantTools: []string{"cmd-3", "cmd-2"}},
		{name: "ring overwrites oldest", capacity: 3, records: 5, limit: 0, wantTools: []string{"cmd-4", "cmd-3", "cmd-2"}},
		{name: "exactly full", capacity: 3, records: 3, limit: 0, wantTools: []string{"cmd-2", "cmd-1", "cmd-0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewMemoryJournal(tt.capacity)
			for i := 0; i < tt.records; i++ {
				require.NoError(t, j.Record(context.Background(), Entry{Tool: fmt.Sprintf("cmd-%d", i), Outcome: OutcomeOK}))
			}

			entries, err := j.Recent(context.Background(), tt.limit)
			require.NoError(t, err)

			tools := []string{}
			for _, e := range entries {
				tools = append(tools, e.Tool)
				assert.NotEmpty(t, e.ID)
				assert.False(t, e.At.IsZero())
			}
			assert.Equal(t, tt.wantTools, tools)
		})
	}
}

func TestSQLiteJournal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(ctx, Config{Driver: "sqlite", DSN: path}, observability.NewNullLogger())
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Tool: "move_joint_to", Joint: "shoulder_pitch", Position: 1.5, Outcome: OutcomeOK, At: at},
		{Tool: "move_joint_to", Joint: "elbow_pitch", Position: 5, Outcome: OutcomeRejected, Detail: "out of range", At: at.Add(time.Second)},
		{Tool: "emergency_stop", Outcome: OutcomeOK, At: at.Add(2 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, j.Record(ctx, e))
	}

	got, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "emergency_stop", got[0].Tool)
	assert.Equal(t, "elbow_pitch", got[1].Joint)
	assert.Equal(t, 5.0, got[1].Position)
	assert.Equal(t, OutcomeRejected, got[1].Outcome)
	assert.Equal(t, "out of range", got[1].Detail)
	assert.True(t, at.Add(time.Second).Equal(got[1].At))

	require.NoError(t, j.Close())

	reopened, err := Open(ctx, Config{Driver: "sqlite", DSN: path}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "entries survive a reopen")
}

func TestSQLiteJournal_CustomTable(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "j.db"), Table: "arm one"}, nil)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record(ctx, Entry{Tool: "emergency_stop", Outcome: OutcomeOK}))
	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPostgresJournal(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "robot_commands"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	j, err := NewPostgresJournal(ctx, db, DefaultTable, observability.NewNullLogger())
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "robot_commands"`).
		WithArgs(sqlmock.AnyArg(), "move_joint_to", "shoulder_roll", 0.5, OutcomeOK, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, j.Record(ctx, Entry{Tool: "move_joint_to", Joint: "shoulder_roll", Position: 0.5, Outcome: OutcomeOK}))

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "tool", "joint", "position", "outcome", "detail", "recorded_at"}).
		AddRow("b", "emergency_stop", "", 0.0, OutcomeOK, "", at.Add(time.Minute)).
		AddRow("a", "move_joint_to", "shoulder_roll", 0.5, OutcomeOK, "", at)
	mock.ExpectQuery(`SELECT id, tool, joint, position, outcome, detail, recorded_at\s+FROM "robot_commands"\s+ORDER BY seq DESC`).
		WithArgs(5).
		WillReturnRows(rows)

	got, err := j.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, at, got[1].At)

	mock.ExpectExec(`INSERT INTO "robot_commands"`).WillReturnError(errors.New("connection reset"))
	assert.ErrorContains(t, j.Record(ctx, Entry{Tool: "emergency_stop", Outcome: OutcomeOK}), "connection reset")

	mock.ExpectClose()
	require.NoError(t, j.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJournal_SchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "audit"`).WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	j, err := NewPostgresJournal(context.Background(), db, "audit", nil)
	assert.Nil(t, j)
	assert.ErrorContains(t, err, "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default is memory", cfg: Config{}},
		{name: "memory", cfg: Config{Driver: "memory", Capacity: 10}},
		{name: "sqlite without dsn", cfg: Config{Driver: "sqlite"}, wantErr: true},
		{name: "postgres without dsn", cfg: Config{Driver: "postgres"}, wantErr: true},
		{name: "unknown driver", cfg: Config{Driver: "redis"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := Open(context.Background(), tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &MemoryJournal{}, j)
			assert.NoError(t, j.Close())
		})
	}

	_, err := Open(context.Background(), Config{Driver: "redis"}, nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
