package models

import "time"

type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
)

// Round mirrors a lottery_rounds row. Draw columns stay nil while the round
// is active.
type Round struct {
	RoundNumber     int64       `json:"round_number"`
	Status          RoundStatus `json:"status"`
	WinnerCode      *string     `json:"winner_code"`
	WinnerAddress   *string     `json:"winner_address"`
	PrizeAmountSats *uint64     `json:"prize_amount_sats"`
	TotalEntries    *int64      `json:"total_entries"`
	DrawnAt         *time.Time  `json:"drawn_at"`
	CreatedAt       time.Time   `json:"created_at"`
}

// RoundResult is what a draw writes onto the closed round.
type RoundResult struct {
	RoundNumber   int64
	WinnerCode    string
	WinnerAddress string
	PrizeSats     uint64
	TotalEntries  int64
	DrawnAt       time.Time
}
