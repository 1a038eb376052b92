package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrDuplicateCode = errors.New("entry code already exists")
	ErrAlreadyDrawn  = errors.New("round already drawn")
	ErrNoActiveRound = errors.New("no active round")
)

const (
	pgUniqueViolation = "23505"

	constraintEntryCode   = "lottery_entries_code_key"
	constraintRoundNumber = "lottery_rounds_round_number_key"
	constraintOneActive   = "idx_rounds_single_active"
)

// uniqueViolation reports whether err is a unique violation, and on which
// constraint.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
