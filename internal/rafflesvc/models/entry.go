package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry is one paid participation in a round. Only IsWinner ever changes
// after insert.
type Entry struct {
	ID            int64           `json:"-"`
	Code          string          `json:"code"`
	WalletAddress string          `json:"wallet_address"`
	AmountSats    uint64          `json:"amount_sats"`
	BTCPriceUSD   decimal.Decimal `json:"btc_price_usd"`
	Round         int64           `json:"round"`
	IsWinner      bool            `json:"is_winner"`
	CreatedAt     time.Time       `json:"created_at"`
}
