package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
)

// MemoryStore keeps entries and rounds in process memory. One mutex stands in
// for the row locks of the Postgres stores: a draw holds it for the whole
// transaction, so inserts queue behind it and land in the next round.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []*models.Entry
	rounds  map[int64]*models.Round
	now     func() time.Time
}

// NewMemoryStore returns a store bootstrapped with active round 1.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		rounds: make(map[int64]*models.Round),
		now:    time.Now,
	}
	m.rounds[1] = &models.Round{RoundNumber: 1, Status: models.RoundActive, CreatedAt: m.now()}
	return m
}

func (m *MemoryStore) activeLocked() (int64, bool) {
	var best int64
	for n, r := range m.rounds {
		if r.Status == models.RoundActive && n > best {
			best = n
		}
	}
	return best, best > 0
}

func (m *MemoryStore) Insert(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries {
		if existing.Code == e.Code {
			return nil, ErrDuplicateCode
		}
	}
	round, ok := m.activeLocked()
	if !ok {
		return nil, ErrNoActiveRound
	}

	m.nextID++
	out := *e
	out.ID = m.nextID
	out.Round = round
	out.IsWinner = false
	out.CreatedAt = m.now()
	m.entries = append(m.entries, &out)

	cp := out
	return &cp, nil
}

func (m *MemoryStore) ListByRound(ctx context.Context, round int64) ([]*models.Entry, error) {
	return m.list(ctx, func(e *models.Entry) bool { return e.Round == round })
}

func (m *MemoryStore) ListByRoundAndWallet(ctx context.Context, round int64, wallet string) ([]*models.Entry, error) {
	return m.list(ctx, func(e *models.Entry) bool { return e.Round == round && e.WalletAddress == wallet })
}

func (m *MemoryStore) list(ctx context.Context, keep func(*models.Entry) bool) ([]*models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Entry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if keep(m.entries[i]) {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) RoundTotals(ctx context.Context, round int64) (int64, uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	var total uint64
	for _, e := range m.entries {
		if e.Round == round {
			count++
			total += e.AmountSats
		}
	}
	return count, total, nil
}

func (m *MemoryStore) CurrentRound(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.activeLocked()
	if !ok {
		return 0, ErrNoActiveRound
	}
	return round, nil
}

func (m *MemoryStore) History(ctx context.Context, limit int) ([]*models.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Round, 0, len(m.rounds))
	for _, r := range m.rounds {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber > out[j].RoundNumber })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InDrawTx runs fn with the store locked. Changes made by fn are discarded if
// it returns an error.
func (m *MemoryStore) InDrawTx(ctx context.Context, fn func(DrawTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rounds := make(map[int64]models.Round, len(m.rounds))
	for n, r := range m.rounds {
		rounds[n] = *r
	}
	winners := make([]bool, len(m.entries))
	for i, e := range m.entries {
		winners[i] = e.IsWinner
	}

	if err := fn(&memDrawTx{m: m}); err != nil {
		m.rounds = make(map[int64]*models.Round, len(rounds))
		for n, r := range rounds {
			r := r
			m.rounds[n] = &r
		}
		for i, w := range winners {
			m.entries[i].IsWinner = w
		}
		return err
	}
	return nil
}

type memDrawTx struct {
	m *MemoryStore
}

func (t *memDrawTx) LockActiveRound(ctx context.Context) (int64, error) {
	round, ok := t.m.activeLocked()
	if !ok {
		return 0, ErrNoActiveRound
	}
	return round, nil
}

func (t *memDrawTx) EntriesForRound(ctx context.Context, round int64) ([]*models.Entry, error) {
	out := make([]*models.Entry, 0)
	for _, e := range t.m.entries {
		if e.Round == round {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memDrawTx) MarkWinner(ctx context.Context, round int64, code string) error {
	for _, e := range t.m.entries {
		if e.Code == code && e.Round == round && !e.IsWinner {
			e.IsWinner = true
			return nil
		}
	}
	return ErrAlreadyDrawn
}

func (t *memDrawTx) CompleteRound(ctx context.Context, res models.RoundResult) error {
	r, ok := t.m.rounds[res.RoundNumber]
	if !ok || r.Status != models.RoundActive {
		return ErrAlreadyDrawn
	}
	code, addr, prize, total, drawnAt := res.WinnerCode, res.WinnerAddress, res.PrizeSats, res.TotalEntries, res.DrawnAt
	r.Status = models.RoundCompleted
	r.WinnerCode = &code
	r.WinnerAddress = &addr
	r.PrizeAmountSats = &prize
	r.TotalEntries = &total
	r.DrawnAt = &drawnAt
	return nil
}

func (t *memDrawTx) OpenRound(ctx context.Context, round int64) error {
	if _, exists := t.m.rounds[round]; exists {
		return ErrAlreadyDrawn
	}
	if _, active := t.m.activeLocked(); active {
		return ErrAlreadyDrawn
	}
	t.m.rounds[round] = &models.Round{RoundNumber: round, Status: models.RoundActive, CreatedAt: t.m.now()}
	return nil
}
