package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/store"
	log "github.com/sirupsen/logrus"
)

// MaxHistory caps GetRoundHistory.
const MaxHistory = 20

type RoundRepository interface {
	CurrentRound(ctx context.Context) (int64, error)
	History(ctx context.Context, limit int) ([]*models.Round, error)
	InDrawTx(ctx context.Context, fn func(store.DrawTx) error) error
}

type DrawResult struct {
	Round         int64
	WinnerCode    string
	WinnerAddress string
	TotalEntries  int64
	TotalSats     uint64
	PrizeSats     uint64
	ProfitSats    uint64
	NextRound     int64
	DrawnAt       time.Time
}

// RoundService owns the active round and the draw that closes it.
type RoundService struct {
	store      RoundRepository
	picker     Picker
	prizeShare uint64
	now        func() time.Time
}

func NewRoundService(store RoundRepository, picker Picker, prizeSharePercent uint64) *RoundService {
	return &RoundService{
		store:      store,
		picker:     picker,
		prizeShare: prizeSharePercent,
		now:        time.Now,
	}
}

// PrizeShare is the percentage of a round's takings paid to its winner.
func (s *RoundService) PrizeShare() uint64 {
	return s.prizeShare
}

// GetCurrentRound returns the active round, or 1 before any round exists.
func (s *RoundService) GetCurrentRound(ctx context.Context) (int64, error) {
	round, err := s.store.CurrentRound(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveRound) {
			return 1, nil
		}
		return 0, storageErr("current round", err)
	}
	return round, nil
}

// DrawWinner draws the current round.
func (s *RoundService) DrawWinner(ctx context.Context) (*DrawResult, error) {
	round, err := s.GetCurrentRound(ctx)
	if err != nil {
		return nil, err
	}
	return s.DrawRound(ctx, round)
}

// DrawRound picks a uniformly random winner among the entries of round,
// closes it and opens round+1 in one transaction. It fails with
// ErrAlreadyDrawn when round is no longer the active round, and with
// ErrNoEntries, changing nothing, when round has no entries.
func (s *RoundService) DrawRound(ctx context.Context, round int64) (*DrawResult, error) {
	var result *DrawResult

	err := s.store.InDrawTx(ctx, func(tx store.DrawTx) error {
		active, err := tx.LockActiveRound(ctx)
		if err != nil {
			return err
		}
		if active != round {
			return fmt.Errorf("round %d is not active (current %d): %w", round, active, store.ErrAlreadyDrawn)
		}

		entries, err := tx.EntriesForRound(ctx, round)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return ErrNoEntries
		}

		idx, err := s.picker.Pick(len(entries))
		if err != nil {
			return err
		}
		winner := entries[idx]

		var total uint64
		for _, e := range entries {
			if total+e.AmountSats < total {
				return fmt.Errorf("round %d total overflows", round)
			}
			total += e.AmountSats
		}
		prize, profit := SplitPrize(total, s.prizeShare)

		if err := tx.MarkWinner(ctx, round, winner.Code); err != nil {
			return err
		}

		drawnAt := s.now().UTC()
		err = tx.CompleteRound(ctx, models.RoundResult{
			RoundNumber:   round,
			WinnerCode:    winner.Code,
			WinnerAddress: winner.WalletAddress,
			PrizeSats:     prize,
			TotalEntries:  int64(len(entries)),
			DrawnAt:       drawnAt,
		})
		if err != nil {
			return err
		}

		if err := tx.OpenRound(ctx, round+1); err != nil {
			return err
		}

		result = &DrawResult{
			Round:         round,
			WinnerCode:    winner.Code,
			WinnerAddress: winner.WalletAddress,
			TotalEntries:  int64(len(entries)),
			TotalSats:     total,
			PrizeSats:     prize,
			ProfitSats:    profit,
			NextRound:     round + 1,
			DrawnAt:       drawnAt,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNoEntries) && !errors.Is(err, store.ErrAlreadyDrawn) {
			log.Errorf("Error [RoundService.DrawRound] round %d: %s", round, err)
		}
		return nil, storageErr("draw round", err)
	}

	log.Infof("Round %d winner: %s - %s (%d entries, prize %d sats)",
		result.Round, result.WinnerCode, result.WinnerAddress, result.TotalEntries, result.PrizeSats)
	return result, nil
}

// GetRoundHistory returns up to limit rounds, most recent first, capped at MaxHistory.
func (s *RoundService) GetRoundHistory(ctx context.Context, limit int) ([]*models.Round, error) {
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	rounds, err := s.store.History(ctx, limit)
	if err != nil {
		return nil, storageErr("round history", err)
	}
	return rounds, nil
}
