package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a USD-per-BTC observation held in process memory only.
type PriceQuote struct {
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// EntryQuote is the amount a single entry costs at a given BTC price.
type EntryQuote struct {
	FaceValueUSD decimal.Decimal
	AmountSats   uint64
	PriceUsed    decimal.Decimal
}
