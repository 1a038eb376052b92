package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEntries(t *testing.T, ledger *EntryService, amounts ...uint64) []*models.Entry {
	t.Helper()
	var out []*models.Entry
	for i, amt := range amounts {
		e, err := ledger.RecordEntry(context.Background(), fmt.Sprintf("SP%03d", i), models.EntryQuote{
			FaceValueUSD: decimal.NewFromInt(1),
			AmountSats:   amt,
			PriceUsed:    decimal.NewFromInt(100000),
		})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func winnersIn(t *testing.T, ledger *EntryService, round int64) []*models.Entry {
	t.Helper()
	entries, err := ledger.ListEntries(context.Background(), round)
	require.NoError(t, err)
	var w []*models.Entry
	for _, e := range entries {
		if e.IsWinner {
			w = append(w, e)
		}
	}
	return w
}

func TestDrawWinnerScenario(t *testing.T) {
	mem := store.NewMemoryStore()
	ledger := NewEntryService(mem, NewCodeGenerator())
	rounds := NewRoundService(mem, NewCryptoPicker(), 95)
	ctx := context.Background()

	seedEntries(t, ledger, 1000, 1000, 1000)

	res, err := rounds.DrawWinner(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Round)
	assert.Equal(t, uint64(3000), res.TotalSats)
	assert.Equal(t, uint64(2850), res.PrizeSats)
	assert.Equal(t, uint64(150), res.ProfitSats)
	assert.Equal(t, int64(3), res.TotalEntries)
	assert.Equal(t, int64(2), res.NextRound)

	current, err := rounds.GetCurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current)

	history, err := rounds.GetRoundHistory(ctx, 20)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoundActive, history[0].Status)
	assert.Equal(t, int64(2), history[0].RoundNumber)

	closed := history[1]
	assert.Equal(t, models.RoundCompleted, closed.Status)
	require.NotNil(t, closed.TotalEntries)
	assert.Equal(t, int64(3), *closed.TotalEntries)
	require.NotNil(t, closed.WinnerCode)
	assert.Equal(t, res.WinnerCode, *closed.WinnerCode)
	require.NotNil(t, closed.PrizeAmountSats)
	assert.Equal(t, uint64(2850), *closed.PrizeAmountSats)
	assert.NotNil(t, closed.DrawnAt)

	w := winnersIn(t, ledger, 1)
	require.Len(t, w, 1)
	assert.Equal(t, res.WinnerCode, w[0].Code)
	assert.Equal(t, res.WinnerAddress, w[0].WalletAddress)
}

func TestDrawWinnerNoEntries(t *testing.T) {
	mem := store.NewMemoryStore()
	rounds := NewRoundService(mem, NewCryptoPicker(), 95)
	ctx := context.Background()

	_, err := rounds.DrawWinner(ctx)
	assert.ErrorIs(t, err, ErrNoEntries)

	history, err := rounds.GetRoundHistory(ctx, 20)
	require.NoError(t, err)
	require.Len(t, history, 1, "no round 2 may be created")
	assert.Equal(t, models.RoundActive, history[0].Status)
}

func TestDrawWinnerSingleEntry(t *testing.T) {
	mem := store.NewMemoryStore()
	ledger := NewEntryService(mem, NewCodeGenerator())
	rounds := NewRoundService(mem, NewCryptoPicker(), 95)

	only := seedEntries(t, ledger, 1031)[0]

	res, err := rounds.DrawWinner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, only.Code, res.WinnerCode)
	assert.Equal(t, uint64(979), res.PrizeSats)
	assert.Equal(t, uint64(52), res.ProfitSats)
}

func TestDrawRoundTwiceFailsAlreadyDrawn(t *testing.T) {
	mem := store.NewMemoryStore()
	ledger := NewEntryService(mem, NewCodeGenerator())
	rounds := NewRoundService(mem, NewCryptoPicker(), 95)
	ctx := context.Background()

	seedEntries(t, ledger, 500)
	_, err := rounds.DrawRound(ctx, 1)
	require.NoError(t, err)

	_, err = rounds.DrawRound(ctx, 1)
	assert.ErrorIs(t, err, ErrAlreadyDrawn)
}

func TestConcurrentDrawsOnlyOneWins(t *testing.T) {
	for i := 0; i < 25; i++ {
		mem := store.NewMemoryStore()
		ledger := NewEntryService(mem, NewCodeGenerator())
		rounds := NewRoundService(mem, NewCryptoPicker(), 95)
		seedEntries(t, ledger, 1000, 2000, 3000, 4000)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j := range errs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, errs[j] = rounds.DrawRound(context.Background(), 1)
			}(j)
		}
		wg.Wait()

		var ok, drawn int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyDrawn):
				drawn++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, drawn)
		assert.Len(t, winnersIn(t, ledger, 1), 1)

		current, err := rounds.GetCurrentRound(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), current, "round must advance exactly once")
	}
}

func TestEntryAfterDrawLandsInNextRound(t *testing.T) {
	mem := store.NewMemoryStore()
	ledger := NewEntryService(mem, NewCodeGenerator())
	rounds := NewRoundService(mem, NewCryptoPicker(), 95)
	ctx := context.Background()

	seedEntries(t, ledger, 1000)
	_, err := rounds.DrawWinner(ctx)
	require.NoError(t, err)

	late := seedEntries(t, ledger, 1000)[0]
	assert.Equal(t, int64(2), late.Round)

	count, total, err := ledger.RoundTotals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, uint64(1000), total)
}

type failingOpen struct {
	store.DrawTx
}

func (f failingOpen) OpenRound(ctx context.Context, round int64) error {
	return errors.New("connection reset")
}

type failingOpenStore struct {
	*store.MemoryStore
}

func (s failingOpenStore) InDrawTx(ctx context.Context, fn func(store.DrawTx) error) error {
	return s.MemoryStore.InDrawTx(ctx, func(tx store.DrawTx) error {
		return fn(failingOpen{tx})
	})
}

func TestDrawRollsBackOnFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	ledger := NewEntryService(mem, NewCodeGenerator())
	rounds := NewRoundService(failingOpenStore{mem}, NewCryptoPicker(), 95)
	ctx := context.Background()

	seedEntries(t, ledger, 1000, 1000)

	_, err := rounds.DrawWinner(ctx)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	assert.Empty(t, winnersIn(t, ledger, 1))
	history, err := rounds.GetRoundHistory(ctx, 20)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.RoundActive, history[0].Status)
	assert.Nil(t, history[0].WinnerCode)
}

type scriptedPicker struct {
	idx int
}

func (p scriptedPicker) Pick(n int) (int, error) {
	return p.idx % n, nil
}

func TestDrawSelectsOnlyFromRoundEntries(t *testing.T) {
	mem := store.NewMemoryStore()
	ledger := NewEntryService(mem, NewCodeGenerator())
	ctx := context.Background()

	first := seedEntries(t, ledger, 100, 200)
	_, err := NewRoundService(mem, scriptedPicker{idx: 1}, 95).DrawWinner(ctx)
	require.NoError(t, err)

	second := seedEntries(t, ledger, 300)
	res, err := NewRoundService(mem, scriptedPicker{idx: 5}, 95).DrawWinner(ctx)
	require.NoError(t, err)

	assert.Equal(t, second[0].Code, res.WinnerCode)
	assert.Equal(t, int64(2), res.Round)
	assert.Equal(t, uint64(300), res.TotalSats)
	assert.NotEqual(t, first[0].Code, res.WinnerCode)
}

func TestUniformWinnerFrequency(t *testing.T) {
	const entries, draws = 4, 8000
	wins := make(map[string]int)

	for i := 0; i < draws; i++ {
		mem := store.NewMemoryStore()
		ledger := NewEntryService(mem, NewCodeGenerator())
		rounds := NewRoundService(mem, NewCryptoPicker(), 95)
		seedEntries(t, ledger, 1, 1, 1, 1)

		res, err := rounds.DrawWinner(context.Background())
		require.NoError(t, err)
		wins[res.WinnerAddress]++
	}

	require.Len(t, wins, entries)
	// expected 2000 each, sd ~39
	for addr, n := range wins {
		assert.InDelta(t, draws/entries, n, 250, "wallet %s won %d times", addr, n)
	}
}

type brokenRounds struct{}

func (brokenRounds) CurrentRound(ctx context.Context) (int64, error) {
	return 0, errors.New("dial tcp: connection refused")
}

func (brokenRounds) History(ctx context.Context, limit int) ([]*models.Round, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func (brokenRounds) InDrawTx(ctx context.Context, fn func(store.DrawTx) error) error {
	return errors.New("dial tcp: connection refused")
}

func TestRoundServiceStorageUnavailable(t *testing.T) {
	rounds := NewRoundService(brokenRounds{}, NewCryptoPicker(), 95)
	ctx := context.Background()

	_, err := rounds.GetCurrentRound(ctx)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = rounds.DrawRound(ctx, 1)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = rounds.GetRoundHistory(ctx, 5)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

type emptyRounds struct{ brokenRounds }

func (emptyRounds) CurrentRound(ctx context.Context) (int64, error) {
	return 0, store.ErrNoActiveRound
}

func TestGetCurrentRoundBootstrap(t *testing.T) {
	round, err := NewRoundService(emptyRounds{}, NewCryptoPicker(), 95).GetCurrentRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), round)
}
