package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS lottery_journal (
		id            TEXT PRIMARY KEY,
		action        TEXT NOT NULL,
		handle        TEXT NOT NULL DEFAULT '',
		signature     TEXT NOT NULL DEFAULT '',
		outcome       TEXT NOT NULL,
		error_kind    TEXT NOT NULL DEFAULT '',
		message       TEXT NOT NULL DEFAULT '',
		pool_after    BIGINT NOT NULL DEFAULT 0,
		players_after BIGINT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS lottery_journal_created_at_idx ON lottery_journal (created_at DESC)`,
}

const insertEntry = `INSERT INTO lottery_journal
	(id, action, handle, signature, outcome, error_kind, message, pool_after, players_after, created_at)
	VALUES (:id, :action, :handle, :signature, :outcome, :error_kind, :message, :pool_after, :players_after, :created_at)`

const selectEntries = `SELECT id, action, handle, signature, outcome, error_kind, message, pool_after, players_after, created_at
	FROM lottery_journal ORDER BY created_at DESC LIMIT $1`

// PostgresStore persists entries in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect journal database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// Migrate creates the journal schema. Statements are idempotent and run in order.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NamedExecContext(ctx, insertEntry, e); err != nil {
		return Entry{}, fmt.Errorf("insert journal entry: %w", err)
	}
	return e, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	if err := s.db.SelectContext(ctx, &out, selectEntries, normalizeLimit(limit)); err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	return out, nil
}
