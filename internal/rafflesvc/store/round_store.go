package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DrawTx is the set of writes a draw performs inside one transaction.
type DrawTx interface {
	// LockActiveRound locks the current active round until the transaction
	// ends. It fails with ErrAlreadyDrawn when a concurrent draw closed it.
	LockActiveRound(ctx context.Context) (int64, error)
	EntriesForRound(ctx context.Context, round int64) ([]*models.Entry, error)
	MarkWinner(ctx context.Context, round int64, code string) error
	CompleteRound(ctx context.Context, res models.RoundResult) error
	OpenRound(ctx context.Context, round int64) error
}

type RoundStore struct {
	db *pgxpool.Pool
}

func NewRoundStore(db *pgxpool.Pool) *RoundStore {
	return &RoundStore{db: db}
}

// CurrentRound returns the highest active round number.
func (s *RoundStore) CurrentRound(ctx context.Context) (int64, error) {
	var round int64
	err := s.db.QueryRow(ctx, `
		SELECT round_number
		FROM lottery_rounds
		WHERE status = 'active'
		ORDER BY round_number DESC
		LIMIT 1
	`).Scan(&round)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoActiveRound
		}
		return 0, fmt.Errorf("failed to get current round: %w", err)
	}
	return round, nil
}

// History returns up to limit rounds, most recent first.
func (s *RoundStore) History(ctx context.Context, limit int) ([]*models.Round, error) {
	rows, err := s.db.Query(ctx, `
		SELECT round_number, status, winner_code, winner_address, prize_amount_sats,
		       total_entries, drawn_at, created_at
		FROM lottery_rounds
		ORDER BY round_number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	rounds := make([]*models.Round, 0)
	for rows.Next() {
		var r models.Round
		err := rows.Scan(
			&r.RoundNumber,
			&r.Status,
			&r.WinnerCode,
			&r.WinnerAddress,
			&r.PrizeAmountSats,
			&r.TotalEntries,
			&r.DrawnAt,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan round row: %w", err)
		}
		rounds = append(rounds, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rounds, nil
}

// InDrawTx runs fn in a single transaction and commits only if fn succeeds.
func (s *RoundStore) InDrawTx(ctx context.Context, fn func(DrawTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgDrawTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgDrawTx struct {
	tx pgx.Tx
}

func (t *pgDrawTx) LockActiveRound(ctx context.Context) (int64, error) {
	var round int64
	err := t.tx.QueryRow(ctx, `
		SELECT round_number
		FROM lottery_rounds
		WHERE status = 'active'
		ORDER BY round_number DESC
		LIMIT 1
		FOR UPDATE
	`).Scan(&round)
	if err == nil {
		return round, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lock round row: %w", err)
	}

	// the row we waited on was completed by the draw that held it
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lottery_rounds)`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check rounds: %w", err)
	}
	if exists {
		return 0, ErrAlreadyDrawn
	}
	return 0, ErrNoActiveRound
}

func (t *pgDrawTx) EntriesForRound(ctx context.Context, round int64) ([]*models.Entry, error) {
	return queryEntries(ctx, t.tx, `
		SELECT id, code, wallet_address, amount_sats, btc_price_usd, round, is_winner, created_at
		FROM lottery_entries
		WHERE round = $1
		ORDER BY id
	`, round)
}

func (t *pgDrawTx) MarkWinner(ctx context.Context, round int64, code string) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE lottery_entries
		SET is_winner = TRUE
		WHERE code = $1 AND round = $2 AND is_winner = FALSE
	`, code, round)
	if err != nil {
		return fmt.Errorf("update winner entry: %w", err)
	}
	if res.RowsAffected() != 1 {
		return fmt.Errorf("winner entry %s in round %d: %w", code, round, ErrAlreadyDrawn)
	}
	return nil
}

func (t *pgDrawTx) CompleteRound(ctx context.Context, r models.RoundResult) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE lottery_rounds
		SET status = 'completed', winner_code = $1, winner_address = $2,
		    prize_amount_sats = $3, total_entries = $4, drawn_at = $5
		WHERE round_number = $6 AND status = 'active'
	`, r.WinnerCode, r.WinnerAddress, r.PrizeSats, r.TotalEntries, r.DrawnAt, r.RoundNumber)
	if err != nil {
		return fmt.Errorf("update round %d: %w", r.RoundNumber, err)
	}
	// no row updated means another draw closed it first
	if res.RowsAffected() != 1 {
		return fmt.Errorf("round %d: %w", r.RoundNumber, ErrAlreadyDrawn)
	}
	return nil
}

func (t *pgDrawTx) OpenRound(ctx context.Context, round int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO lottery_rounds (round_number, status)
		VALUES ($1, 'active')
	`, round)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok &&
			(constraint == constraintRoundNumber || constraint == constraintOneActive) {
			return fmt.Errorf("open round %d: %w", round, ErrAlreadyDrawn)
		}
		return fmt.Errorf("insert next round %d: %w", round, err)
	}
	return nil
}
