package service

import (
	"errors"
	"fmt"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/store"
)

var (
	ErrNoEntries            = errors.New("no entries in current round")
	ErrMissingWalletAddress = errors.New("wallet address required")
	ErrInvalidFaceValue     = errors.New("face value must be positive")
	ErrStorageUnavailable   = errors.New("storage unavailable")

	ErrAlreadyDrawn  = store.ErrAlreadyDrawn
	ErrDuplicateCode = store.ErrDuplicateCode
)

// storageErr keeps the raffle sentinels visible and files everything else
// under ErrStorageUnavailable.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrAlreadyDrawn),
		errors.Is(err, store.ErrDuplicateCode),
		errors.Is(err, ErrNoEntries):
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
