package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// Picker draws an index uniformly from [0, n).
type Picker interface {
	Pick(n int) (int, error)
}

// CryptoPicker uses rand.Int, which rejection-samples and so has no modulo bias.
type CryptoPicker struct {
	Rand io.Reader
}

func NewCryptoPicker() *CryptoPicker {
	return &CryptoPicker{Rand: rand.Reader}
}

func (p *CryptoPicker) Pick(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("pick from empty set")
	}
	if n == 1 {
		return 0, nil
	}
	i, err := rand.Int(p.Rand, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random index: %w", err)
	}
	return int(i.Int64()), nil
}

// SplitPrize returns floor(total*sharePercent/100) and its exact complement.
// The split is done on quotient and remainder so total*share never overflows.
func SplitPrize(total, sharePercent uint64) (prize, profit uint64) {
	prize = (total/100)*sharePercent + (total%100)*sharePercent/100
	return prize, total - prize
}
