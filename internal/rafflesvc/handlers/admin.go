package handlers

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avvvet/btc-raffle/internal/comm"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/service"
	"github.com/go-chi/jwtauth"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	HeaderAdminSecret = "X-Admin-Secret"

	adminSubject = "raffle-admin"
	maxAdminBody = 1 << 16
)

type adminRequest struct {
	Secret string `json:"secret"`
	Round  *int64 `json:"round"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Winner struct {
	Code    string `json:"code"`
	Address string `json:"address"`
}

type PayoutInstructions struct {
	Prize  string `json:"prize"`
	Profit string `json:"profit"`
}

type DrawResponse struct {
	Success            bool               `json:"success"`
	Round              int64              `json:"round"`
	Winner             Winner             `json:"winner"`
	TotalEntries       int64              `json:"totalEntries"`
	TotalCollectedSats uint64             `json:"totalCollectedSats"`
	PrizeSats          uint64             `json:"prizeSats"`
	ProfitSats         uint64             `json:"profitSats"`
	PrizePoolWallet    string             `json:"prizePoolWallet"`
	ProfitWallet       string             `json:"profitWallet"`
	Instructions       PayoutInstructions `json:"instructions"`
	NextRound          int64              `json:"nextRound"`
}

type RoundsResponse struct {
	Rounds []*models.Round `json:"rounds"`
}

type AdminEntry struct {
	Code          string          `json:"code"`
	WalletAddress string          `json:"wallet_address"`
	AmountSats    uint64          `json:"amount_sats"`
	BTCPriceUSD   decimal.Decimal `json:"btc_price_usd"`
	CreatedAt     time.Time       `json:"created_at"`
}

type AdminEntriesResponse struct {
	Round   int64        `json:"round"`
	Entries []AdminEntry `json:"entries"`
	Count   int          `json:"count"`
}

// AdminOnly lets a request through with either the shared secret or a
// bearer token minted by IssueToken. Every failure looks the same.
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.hasValidToken(r) || h.hasSecret(r) {
			next.ServeHTTP(w, r)
			return
		}
		log.Warnf("unauthorized admin request %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		h.writeError(w, ErrUnauthorized)
	})
}

func (h *Handler) hasValidToken(r *http.Request) bool {
	if jwtauth.TokenFromHeader(r) == "" {
		return false
	}
	token, err := jwtauth.VerifyRequest(h.tokenAuth, r, jwtauth.TokenFromHeader)
	if err != nil || token == nil {
		return false
	}
	if exp := token.Expiration(); exp.IsZero() || time.Now().After(exp) {
		return false
	}
	return token.Subject() == adminSubject
}

// hasSecret checks the header, the query string and a JSON body, in that order.
func (h *Handler) hasSecret(r *http.Request) bool {
	if h.secretMatches(r.Header.Get(HeaderAdminSecret)) {
		return true
	}
	if h.secretMatches(r.URL.Query().Get("secret")) {
		return true
	}
	body, err := readAdminBody(r)
	if err != nil {
		return false
	}
	return h.secretMatches(body.Secret)
}

func (h *Handler) secretMatches(candidate string) bool {
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(h.cfg.AdminSecret)) == 1
}

// readAdminBody decodes the JSON body and puts it back for the next reader.
// An empty body decodes to the zero request.
func readAdminBody(r *http.Request) (*adminRequest, error) {
	req := &adminRequest{}
	if r.Body == nil {
		return req, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return req, nil
}

// IssueToken trades the shared secret for a signed bearer token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !h.hasSecret(r) {
		h.writeError(w, ErrUnauthorized)
		return
	}

	now := time.Now()
	expiresAt := now.Add(h.cfg.AdminTokenTTL)
	_, tokenString, err := h.tokenAuth.Encode(map[string]interface{}{
		"sub": adminSubject,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	})
	if err != nil {
		log.Errorf("Error [Handler.IssueToken]: %s", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{Token: tokenString, ExpiresAt: expiresAt.UTC().Truncate(time.Second)})
}

// Draw closes the current round. A body of {"round": R} pins the draw to R
// so a retried call cannot draw the following round by accident.
func (h *Handler) Draw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readAdminBody(r)
	if err != nil {
		h.writeError(w, ErrBadRequest)
		return
	}

	var res *service.DrawResult
	if body.Round != nil {
		res, err = h.rounds.DrawRound(ctx, *body.Round)
	} else {
		res, err = h.rounds.DrawWinner(ctx)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, DrawResponse{
		Success:            true,
		Round:              res.Round,
		Winner:             Winner{Code: res.WinnerCode, Address: res.WinnerAddress},
		TotalEntries:       res.TotalEntries,
		TotalCollectedSats: res.TotalSats,
		PrizeSats:          res.PrizeSats,
		ProfitSats:         res.ProfitSats,
		PrizePoolWallet:    h.cfg.PrizePoolWallet,
		ProfitWallet:       h.cfg.ProfitWallet,
		Instructions: PayoutInstructions{
			Prize:  fmt.Sprintf("Send %d sats to winner: %s", res.PrizeSats, res.WinnerAddress),
			Profit: fmt.Sprintf("Transfer %d sats from prize pool to profit wallet", res.ProfitSats),
		},
		NextRound: res.NextRound,
	})

	h.broker.PublishRoundDrawn(comm.RoundDrawn{
		Round:         res.Round,
		WinnerCode:    res.WinnerCode,
		WinnerAddress: res.WinnerAddress,
		PrizeSats:     res.PrizeSats,
		TotalEntries:  res.TotalEntries,
		NextRound:     res.NextRound,
	})
}

func (h *Handler) Rounds(w http.ResponseWriter, r *http.Request) {
	limit := service.MaxHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, ErrBadRequest)
			return
		}
		limit = n
	}

	rounds, err := h.rounds.GetRoundHistory(r.Context(), limit)
	if err != nil {
		log.Errorf("Error [Handler.Rounds]: %s", err)
		h.writeError(w, err)
		return
	}
	if rounds == nil {
		rounds = []*models.Round{}
	}
	h.writeJSON(w, http.StatusOK, RoundsResponse{Rounds: rounds})
}

func (h *Handler) AdminEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	round, err := h.rounds.GetCurrentRound(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := h.entries.ListEntries(ctx, round)
	if err != nil {
		log.Errorf("Error [Handler.AdminEntries]: %s", err)
		h.writeError(w, err)
		return
	}

	out := make([]AdminEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, AdminEntry{
			Code:          e.Code,
			WalletAddress: e.WalletAddress,
			AmountSats:    e.AmountSats,
			BTCPriceUSD:   e.BTCPriceUSD,
			CreatedAt:     e.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, AdminEntriesResponse{Round: round, Entries: out, Count: len(out)})
}
