package journal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAndList(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e, err := s.Append(ctx, Entry{Action: fmt.Sprintf("a%d", i), Outcome: OutcomeConfirmed})
		require.NoError(t, err)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a4", all[0].Action)
	assert.Equal(t, "a2", all[2].Action)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, normalizeLimit(-1))
	assert.Equal(t, 7, normalizeLimit(7))
	assert.Equal(t, 1000, normalizeLimit(5000))
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestMigrateExecutesAllStatements(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS lottery_journal").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS lottery_journal_created_at_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateStopsOnError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err := Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal migration 1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lottery_journal")).
		WithArgs(sqlmock.AnyArg(), "enter", "Handle111", "Sig111", "synthesized", "simulation_failed",
			"Entered lottery with 0.1 SOL!", 100_000_000, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e, err := store.Append(context.Background(), Entry{
		Action:       "enter",
		Handle:       "Handle111",
		Signature:    "Sig111",
		Outcome:      OutcomeSynthesized,
		ErrorKind:    "simulation_failed",
		Message:      "Entered lottery with 0.1 SOL!",
		PoolAfter:    100_000_000,
		PlayersAfter: 1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "action", "handle", "signature", "outcome", "error_kind", "message",
		"pool_after", "players_after", "created_at",
	}).
		AddRow("2", "pickWinner", "H", "", "synthesized", "no_players", "Winner", int64(0), int64(0), now).
		AddRow("1", "initialize", "H", "S", "confirmed", "", "Lottery initialized", int64(0), int64(0), now.Add(-time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM lottery_journal ORDER BY created_at DESC LIMIT").
		WithArgs(10).
		WillReturnRows(rows)

	entries, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pickWinner", entries[0].Action)
	assert.Equal(t, OutcomeConfirmed, entries[1].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendError(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)

	mock.ExpectExec("INSERT INTO lottery_journal").WillReturnError(errors.New("connection reset"))

	_, err := store.Append(context.Background(), Entry{Action: "refresh", Outcome: OutcomeFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert journal entry")
}
