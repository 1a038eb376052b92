package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avvvet/btc-raffle/internal/comm"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/payment"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/service"
	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type StatusResponse struct {
	CurrentRound    int64   `json:"currentRound"`
	TotalEntries    int64   `json:"totalEntries"`
	TicketPriceUSD  float64 `json:"ticketPriceUSD"`
	TicketPriceSats uint64  `json:"ticketPriceSats"`
	BTCPriceUSD     float64 `json:"btcPriceUSD"`
	PrizePoolSats   uint64  `json:"prizePoolSats"`
	PrizePoolUSD    float64 `json:"prizePoolUSD"`
	Status          string  `json:"status"`
}

type InfoResponse struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Endpoints       map[string]string `json:"endpoints"`
	EntryPriceUSD   float64           `json:"entryPriceUSD"`
	EntryPriceSats  uint64            `json:"entryPriceSats"`
	BTCPriceUSD     float64           `json:"btcPriceUSD"`
	CurrentRound    int64             `json:"currentRound"`
	TotalEntries    int64             `json:"totalEntries"`
	PrizePoolSplit  string            `json:"prizePoolSplit"`
	ProfitSplit     string            `json:"profitSplit"`
	X402            bool              `json:"x402"`
	PrizePoolWallet string            `json:"prizePoolWallet"`
	TokenType       string            `json:"tokenType"`
	Network         string            `json:"network"`
}

type WalletEntry struct {
	Code       string    `json:"code"`
	AmountSats uint64    `json:"amount_sats"`
	CreatedAt  time.Time `json:"created_at"`
}

type WalletEntriesResponse struct {
	Address string        `json:"address"`
	Round   int64         `json:"round"`
	Entries []WalletEntry `json:"entries"`
	Count   int           `json:"count"`
}

type EnterResponse struct {
	Success               bool    `json:"success"`
	Code                  string  `json:"code"`
	Message               string  `json:"message"`
	WalletAddress         string  `json:"walletAddress"`
	AmountPaidSats        uint64  `json:"amountPaidSats"`
	AmountPaidUSD         float64 `json:"amountPaidUSD"`
	BTCPriceUSD           float64 `json:"btcPriceUSD"`
	Round                 int64   `json:"round"`
	PrizePoolContribution uint64  `json:"prizePoolContribution"`
}

// snapshot is the current quote and the active round's totals, read in parallel.
type snapshot struct {
	quote models.EntryQuote
	round int64
	count int64
	total uint64
}

func (h *Handler) snapshot(ctx context.Context) (*snapshot, error) {
	s := &snapshot{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		q, err := h.pricing.QuoteEntryPrice(ctx, h.cfg.TicketPriceUSD)
		s.quote = q
		return err
	})
	g.Go(func() error {
		round, err := h.rounds.GetCurrentRound(ctx)
		if err != nil {
			return err
		}
		count, total, err := h.entries.RoundTotals(ctx, round)
		s.round, s.count, s.total = round, count, total
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	s, err := h.snapshot(r.Context())
	if err != nil {
		log.Errorf("Error [Handler.Info]: %s", err)
		h.writeError(w, err)
		return
	}

	share := h.rounds.PrizeShare()
	h.writeJSON(w, http.StatusOK, InfoResponse{
		Name:    ServiceName,
		Version: ServiceVersion,
		Endpoints: map[string]string{
			"/":                        "This info (free)",
			"/btc-raffle-enter":        fmt.Sprintf("Enter raffle for $%s %s (x402)", h.cfg.TicketPriceUSD.StringFixed(2), h.cfg.TokenType),
			"/raffle/status":           "Current raffle status (free)",
			"/raffle/entries/:address": "Get entries for address (free)",
			"/raffle/ws":               "Live raffle events (websocket)",
		},
		EntryPriceUSD:   h.cfg.TicketPriceUSD.InexactFloat64(),
		EntryPriceSats:  s.quote.AmountSats,
		BTCPriceUSD:     s.quote.PriceUsed.InexactFloat64(),
		CurrentRound:    s.round,
		TotalEntries:    s.count,
		PrizePoolSplit:  fmt.Sprintf("%d%%", share),
		ProfitSplit:     fmt.Sprintf("%d%%", 100-share),
		X402:            true,
		PrizePoolWallet: h.cfg.PrizePoolWallet,
		TokenType:       h.cfg.TokenType,
		Network:         h.cfg.Network,
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	s, err := h.snapshot(r.Context())
	if err != nil {
		log.Errorf("Error [Handler.Status]: %s", err)
		h.writeError(w, err)
		return
	}

	prize, _ := service.SplitPrize(s.total, h.rounds.PrizeShare())
	h.writeJSON(w, http.StatusOK, StatusResponse{
		CurrentRound:    s.round,
		TotalEntries:    s.count,
		TicketPriceUSD:  h.cfg.TicketPriceUSD.InexactFloat64(),
		TicketPriceSats: s.quote.AmountSats,
		BTCPriceUSD:     s.quote.PriceUsed.InexactFloat64(),
		PrizePoolSats:   prize,
		PrizePoolUSD:    service.SatsToUSD(prize, s.quote.PriceUsed).InexactFloat64(),
		Status:          string(models.RoundActive),
	})
}

func (h *Handler) WalletEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		h.writeError(w, ErrBadRequest)
		return
	}

	round, err := h.rounds.GetCurrentRound(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := h.entries.ListWalletEntries(ctx, round, address)
	if err != nil {
		log.Errorf("Error [Handler.WalletEntries] %s: %s", address, err)
		h.writeError(w, err)
		return
	}

	out := make([]WalletEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, WalletEntry{Code: e.Code, AmountSats: e.AmountSats, CreatedAt: e.CreatedAt})
	}

	h.writeJSON(w, http.StatusOK, WalletEntriesResponse{
		Address: address,
		Round:   round,
		Entries: out,
		Count:   len(out),
	})
}

// Enter records the entry the gate has just been paid for, at the quote the
// gate charged.
func (h *Handler) Enter(w http.ResponseWriter, r *http.Request) {
	receipt, ok := payment.ReceiptFromContext(r.Context())
	if !ok {
		h.writeError(w, payment.ErrPaymentNotSatisfied)
		return
	}

	entry, err := h.entries.RecordEntry(r.Context(), receipt.WalletAddress, receipt.Quote)
	if err != nil {
		txID := ""
		if receipt.Settlement != nil {
			txID = receipt.Settlement.TxID
		}
		log.Errorf("Error [Handler.Enter] paid entry not recorded, wallet %s tx %s: %s", receipt.WalletAddress, txID, err)
		h.writeError(w, err)
		return
	}

	contribution, _ := service.SplitPrize(entry.AmountSats, h.rounds.PrizeShare())
	h.writeJSON(w, http.StatusOK, EnterResponse{
		Success:               true,
		Code:                  entry.Code,
		Message:               "Raffle entry confirmed!",
		WalletAddress:         entry.WalletAddress,
		AmountPaidSats:        entry.AmountSats,
		AmountPaidUSD:         receipt.Quote.FaceValueUSD.InexactFloat64(),
		BTCPriceUSD:           entry.BTCPriceUSD.InexactFloat64(),
		Round:                 entry.Round,
		PrizePoolContribution: contribution,
	})

	go h.announceEntry(context.WithoutCancel(r.Context()), entry)
}

func (h *Handler) announceEntry(ctx context.Context, e *models.Entry) {
	count, _, err := h.entries.RoundTotals(ctx, e.Round)
	if err != nil {
		log.Warnf("entry event for %s not sent: %s", e.Code, err)
		return
	}
	h.broker.PublishEntryRecorded(comm.EntryRecorded{
		Round:        e.Round,
		TotalEntries: count,
		AmountSats:   e.AmountSats,
	})
}
