package service

import (
	"context"
	"strings"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	log "github.com/sirupsen/logrus"
)

type EntryRepository interface {
	Insert(ctx context.Context, e *models.Entry) (*models.Entry, error)
	ListByRound(ctx context.Context, round int64) ([]*models.Entry, error)
	ListByRoundAndWallet(ctx context.Context, round int64, wallet string) ([]*models.Entry, error)
	RoundTotals(ctx context.Context, round int64) (int64, uint64, error)
}

// EntryService is the append-only ledger of paid entries.
type EntryService struct {
	store EntryRepository
	codes *CodeGenerator
}

func NewEntryService(store EntryRepository, codes *CodeGenerator) *EntryService {
	return &EntryService{store: store, codes: codes}
}

// RecordEntry stores one paid entry stamped with the quote it was paid at.
// The round is resolved by the store at insert time, never earlier, so an
// entry that settles after a draw lands in the next round.
func (s *EntryService) RecordEntry(ctx context.Context, walletAddress string, quote models.EntryQuote) (*models.Entry, error) {
	walletAddress = strings.TrimSpace(walletAddress)
	if walletAddress == "" {
		return nil, ErrMissingWalletAddress
	}

	code, err := s.codes.Next()
	if err != nil {
		return nil, err
	}

	entry, err := s.store.Insert(ctx, &models.Entry{
		Code:          code,
		WalletAddress: walletAddress,
		AmountSats:    quote.AmountSats,
		BTCPriceUSD:   quote.PriceUsed,
	})
	if err != nil {
		log.Errorf("Error [EntryService.RecordEntry] wallet %s: %s", walletAddress, err)
		return nil, storageErr("record entry", err)
	}

	log.Infof("Raffle entry: %s by %s for %d sats (round %d)", entry.Code, entry.WalletAddress, entry.AmountSats, entry.Round)
	return entry, nil
}

// ListEntries returns the entries of a round, newest first.
func (s *EntryService) ListEntries(ctx context.Context, round int64) ([]*models.Entry, error) {
	entries, err := s.store.ListByRound(ctx, round)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	return entries, nil
}

// ListWalletEntries returns one wallet's entries in a round, newest first.
func (s *EntryService) ListWalletEntries(ctx context.Context, round int64, walletAddress string) ([]*models.Entry, error) {
	entries, err := s.store.ListByRoundAndWallet(ctx, round, walletAddress)
	if err != nil {
		return nil, storageErr("list wallet entries", err)
	}
	return entries, nil
}

func (s *EntryService) RoundTotals(ctx context.Context, round int64) (int64, uint64, error) {
	count, total, err := s.store.RoundTotals(ctx, round)
	if err != nil {
		return 0, 0, storageErr("round totals", err)
	}
	return count, total, nil
}
