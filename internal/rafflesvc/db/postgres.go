package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var DB *pgxpool.Pool

// Connect initializes the connection pool
func Connect(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	// Try pinging to make sure it's valid
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	DB = pool

	return pool, nil
}

// ClosePool is for graceful shutdown
func ClosePool() {
	if DB != nil {
		DB.Close()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS lottery_entries (
		id SERIAL PRIMARY KEY,
		code TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		amount_sats BIGINT NOT NULL CHECK (amount_sats >= 0),
		btc_price_usd NUMERIC(20, 8) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		round INTEGER NOT NULL DEFAULT 1 CHECK (round >= 1),
		is_winner BOOLEAN NOT NULL DEFAULT FALSE,
		CONSTRAINT lottery_entries_code_key UNIQUE (code)
	)`,
	`CREATE TABLE IF NOT EXISTS lottery_rounds (
		id SERIAL PRIMARY KEY,
		round_number INTEGER NOT NULL CHECK (round_number >= 1),
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed')),
		winner_code TEXT,
		winner_address TEXT,
		prize_amount_sats BIGINT,
		total_entries INTEGER,
		drawn_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT lottery_rounds_round_number_key UNIQUE (round_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_round ON lottery_entries(round)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_wallet ON lottery_entries(wallet_address)`,
	// at most one active round, whatever the application does
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_single_active ON lottery_rounds(status) WHERE status = 'active'`,
	`INSERT INTO lottery_rounds (round_number, status)
	 SELECT 1, 'active'
	 WHERE NOT EXISTS (SELECT 1 FROM lottery_rounds)`,
}

// Migrate creates the raffle tables if missing and bootstraps round 1.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// serialize concurrent instances starting at the same time
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(402402)`); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
