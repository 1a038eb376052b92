package service

import (
	"context"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/shopspring/decimal"
)

// SatsPerBTC is the number of minimal units in one whole token.
const SatsPerBTC = 100_000_000

var satsPerBTC = decimal.NewFromInt(SatsPerBTC)

// PriceSource yields a USD-per-BTC price and never fails.
type PriceSource interface {
	GetReferencePrice(ctx context.Context) decimal.Decimal
}

type PricingEngine struct {
	oracle PriceSource
}

func NewPricingEngine(oracle PriceSource) *PricingEngine {
	return &PricingEngine{oracle: oracle}
}

// QuoteEntryPrice converts a USD face value to sats at the current oracle
// price, rounding up so the collected amount is never below the face value.
func (p *PricingEngine) QuoteEntryPrice(ctx context.Context, faceValueUSD decimal.Decimal) (models.EntryQuote, error) {
	if !faceValueUSD.IsPositive() {
		return models.EntryQuote{}, ErrInvalidFaceValue
	}

	price := p.oracle.GetReferencePrice(ctx)
	return models.EntryQuote{
		FaceValueUSD: faceValueUSD,
		AmountSats:   SatsForUSD(faceValueUSD, price),
		PriceUsed:    price,
	}, nil
}

// SatsForUSD returns ceil(usd / price * 1e8) computed exactly.
func SatsForUSD(usd, price decimal.Decimal) uint64 {
	q, r := usd.Mul(satsPerBTC).QuoRem(price, 0)
	if r.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.BigInt().Uint64()
}

// SatsToUSD values an amount of sats at the given price.
func SatsToUSD(sats uint64, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromUint64(sats).Mul(price).Div(satsPerBTC)
}
