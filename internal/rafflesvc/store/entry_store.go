package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// insertAttempts bounds how often an insert re-resolves the active round when
// a draw closed it between statement snapshot and row lock.
const insertAttempts = 3

type EntryStore struct {
	db *pgxpool.Pool
}

func NewEntryStore(db *pgxpool.Pool) *EntryStore {
	return &EntryStore{db: db}
}

// Insert records the entry against whichever round is active when the row is
// written. The active round row is share-locked by the statement, so the
// insert either commits before a draw locks the round or waits for the draw
// and lands in the next one.
func (s *EntryStore) Insert(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	const query = `
WITH active AS (
  SELECT round_number
  FROM lottery_rounds
  WHERE status = 'active'
  ORDER BY round_number DESC
  LIMIT 1
  FOR SHARE
)
INSERT INTO lottery_entries (code, wallet_address, amount_sats, btc_price_usd, round)
SELECT $1, $2, $3, $4, a.round_number
FROM active a
RETURNING id, round, is_winner, created_at;
`
	for attempt := 1; attempt <= insertAttempts; attempt++ {
		out := *e
		err := s.db.QueryRow(ctx, query, e.Code, e.WalletAddress, e.AmountSats, e.BTCPriceUSD).Scan(
			&out.ID,
			&out.Round,
			&out.IsWinner,
			&out.CreatedAt,
		)
		if err == nil {
			return &out, nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// the round we saw was completed under us; a fresh statement sees the next one
			continue
		}
		if constraint, ok := uniqueViolation(err); ok && constraint == constraintEntryCode {
			return nil, fmt.Errorf("insert entry %s: %w", e.Code, ErrDuplicateCode)
		}
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	return nil, fmt.Errorf("insert entry %s: %w", e.Code, ErrNoActiveRound)
}

func (s *EntryStore) ListByRound(ctx context.Context, round int64) ([]*models.Entry, error) {
	query := `
		SELECT id, code, wallet_address, amount_sats, btc_price_usd, round, is_winner, created_at
		FROM lottery_entries
		WHERE round = $1
		ORDER BY created_at DESC, id DESC
	`
	return queryEntries(ctx, s.db, query, round)
}

func (s *EntryStore) ListByRoundAndWallet(ctx context.Context, round int64, wallet string) ([]*models.Entry, error) {
	query := `
		SELECT id, code, wallet_address, amount_sats, btc_price_usd, round, is_winner, created_at
		FROM lottery_entries
		WHERE round = $1 AND wallet_address = $2
		ORDER BY created_at DESC, id DESC
	`
	return queryEntries(ctx, s.db, query, round, wallet)
}

// RoundTotals returns the entry count and the summed sats of a round.
func (s *EntryStore) RoundTotals(ctx context.Context, round int64) (int64, uint64, error) {
	var count int64
	var total uint64

	err := s.db.QueryRow(ctx, `
        SELECT COUNT(*), COALESCE(SUM(amount_sats), 0)::BIGINT
        FROM lottery_entries
        WHERE round = $1
    `, round).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum round %d: %w", round, err)
	}

	return count, total, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]*models.Entry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.Entry, 0)
	for rows.Next() {
		var e models.Entry
		err := rows.Scan(
			&e.ID,
			&e.Code,
			&e.WalletAddress,
			&e.AmountSats,
			&e.BTCPriceUSD,
			&e.Round,
			&e.IsWinner,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}
