package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/models"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	X402Version = 1

	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderWalletAddress   = "X-Stacks-Address"

	maxTimeoutSeconds = 300
)

var (
	ErrPaymentNotSatisfied    = errors.New("payment not satisfied")
	ErrFacilitatorUnavailable = errors.New("payment facilitator unavailable")
)

// Quoter prices one entry in sats.
type Quoter interface {
	QuoteEntryPrice(ctx context.Context, faceValueUSD decimal.Decimal) (models.EntryQuote, error)
}

// Settler verifies and broadcasts a signed payment against a requirement.
// It returns an error wrapping ErrPaymentNotSatisfied when the payment is
// rejected and ErrFacilitatorUnavailable when it cannot be judged.
type Settler interface {
	Settle(ctx context.Context, p *Payload, req Requirement) (*Settlement, error)
}

type Requirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra"`
}

type Challenge struct {
	X402Version int           `json:"x402Version"`
	Error       string        `json:"error"`
	Kind        string        `json:"kind"`
	Accepts     []Requirement `json:"accepts"`
}

// Payload is the decoded X-PAYMENT header.
type Payload struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	Payload     struct {
		SignedTransaction string `json:"signedTransaction"`
	} `json:"payload"`
}

type Settlement struct {
	Success bool   `json:"success"`
	TxID    string `json:"txId"`
	Payer   string `json:"payer"`
	Network string `json:"network"`
}

// Receipt is what the gate hands to the protected handler.
type Receipt struct {
	WalletAddress string
	Quote         models.EntryQuote
	Settlement    *Settlement
}

type receiptKey struct{}

func ReceiptFromContext(ctx context.Context) (*Receipt, bool) {
	r, ok := ctx.Value(receiptKey{}).(*Receipt)
	return r, ok
}

type GateConfig struct {
	FaceValueUSD decimal.Decimal
	PayTo        string
	Network      string
	TokenType    string
	Asset        string
	Description  string
}

// Gate demands payment of one entry before the wrapped handler runs.
type Gate struct {
	cfg     GateConfig
	quoter  Quoter
	settler Settler
}

func NewGate(cfg GateConfig, quoter Quoter, settler Settler) *Gate {
	return &Gate{cfg: cfg, quoter: quoter, settler: settler}
}

// Require wraps next. The price is quoted once per request and the same
// quote is both charged and handed to next through the request context.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		wallet := strings.TrimSpace(r.Header.Get(HeaderWalletAddress))
		if wallet == "" {
			writeError(w, http.StatusBadRequest, "missing_wallet_address",
				"Wallet address required ("+HeaderWalletAddress+" header)")
			return
		}

		quote, err := g.quoter.QuoteEntryPrice(ctx, g.cfg.FaceValueUSD)
		if err != nil {
			log.Errorf("Error [Gate.Require] quoting entry: %s", err)
			writeError(w, http.StatusInternalServerError, "storage_unavailable", "Unable to price entry")
			return
		}
		req := g.requirement(r, quote)

		header := r.Header.Get(HeaderPayment)
		if header == "" {
			g.challenge(w, req, "X-PAYMENT header is required")
			return
		}

		payload, err := DecodePayload(header)
		if err != nil {
			g.challenge(w, req, err.Error())
			return
		}

		settlement, err := g.settler.Settle(ctx, payload, req)
		switch {
		case errors.Is(err, ErrPaymentNotSatisfied):
			log.Warnf("payment rejected for %s: %s", wallet, err)
			g.challenge(w, req, err.Error())
			return
		case err != nil:
			log.Errorf("Error [Gate.Require] settling payment for %s: %s", wallet, err)
			writeError(w, http.StatusBadGateway, "payment_unavailable", "Payment could not be settled, try again")
			return
		}

		if encoded, err := EncodeSettlement(settlement); err == nil {
			w.Header().Set(HeaderPaymentResponse, encoded)
		}

		log.Infof("payment settled: tx %s from %s for %d sats", settlement.TxID, wallet, quote.AmountSats)

		ctx = context.WithValue(ctx, receiptKey{}, &Receipt{
			WalletAddress: wallet,
			Quote:         quote,
			Settlement:    settlement,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) requirement(r *http.Request, quote models.EntryQuote) Requirement {
	return Requirement{
		Scheme:            "exact",
		Network:           g.cfg.Network,
		MaxAmountRequired: strconv.FormatUint(quote.AmountSats, 10),
		Resource:          r.URL.Path,
		Description:       g.cfg.Description,
		MimeType:          "application/json",
		PayTo:             g.cfg.PayTo,
		MaxTimeoutSeconds: maxTimeoutSeconds,
		Asset:             g.cfg.Asset,
		Extra: map[string]any{
			"tokenType":   g.cfg.TokenType,
			"btcPriceUSD": quote.PriceUsed.StringFixed(2),
		},
	}
}

func (g *Gate) challenge(w http.ResponseWriter, req Requirement, reason string) {
	writeJSON(w, http.StatusPaymentRequired, Challenge{
		X402Version: X402Version,
		Error:       reason,
		Kind:        "payment_not_satisfied",
		Accepts:     []Requirement{req},
	})
}

func DecodePayload(header string) (*Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("invalid X-PAYMENT header: %w", err)
	}
	p := &Payload{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("invalid X-PAYMENT header: %w", err)
	}
	if p.Payload.SignedTransaction == "" {
		return nil, errors.New("invalid X-PAYMENT header: signedTransaction missing")
	}
	return p, nil
}

func EncodePayload(p *Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func EncodeSettlement(s *Settlement) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}
