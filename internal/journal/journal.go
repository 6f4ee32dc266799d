// Package journal records controller actions and their outcomes.
package journal

import (
	"context"
	"time"
)

// Outcome is how an action ended.
type Outcome string

const (
	// OutcomeConfirmed means the ledger confirmed the transaction.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeSynthesized means the remote call failed and state was advanced locally.
	OutcomeSynthesized Outcome = "synthesized"
	// OutcomeFailed means the remote call failed and state was left unchanged.
	OutcomeFailed Outcome = "failed"
	// OutcomeRejected means the action was refused before any remote call.
	OutcomeRejected Outcome = "rejected"
)

// DefaultLimit is the page size used when a caller passes no limit.
const DefaultLimit = 50

// Entry is one journaled action.
type Entry struct {
	ID           string    `db:"id" json:"id"`
	Action       string    `db:"action" json:"action"`
	Handle       string    `db:"handle" json:"handle,omitempty"`
	Signature    string    `db:"signature" json:"signature,omitempty"`
	Outcome      Outcome   `db:"outcome" json:"outcome"`
	ErrorKind    string    `db:"error_kind" json:"error_kind,omitempty"`
	Message      string    `db:"message" json:"message"`
	PoolAfter    uint64    `db:"pool_after" json:"pool_after"`
	PlayersAfter uint64    `db:"players_after" json:"players_after"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Store persists journal entries.
type Store interface {
	// Append stores e, assigning ID and CreatedAt when empty.
	Append(ctx context.Context, e Entry) (Entry, error)
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
