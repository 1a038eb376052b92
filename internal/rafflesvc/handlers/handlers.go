package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avvvet/btc-raffle/internal/rafflesvc/broker"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/config"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/payment"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/service"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/ws"
	"github.com/go-chi/jwtauth"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	ServiceName    = "Bitcoin Faces Raffle"
	ServiceVersion = "2.1.0"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

type Handler struct {
	cfg       *config.Config
	pricing   *service.PricingEngine
	entries   *service.EntryService
	rounds    *service.RoundService
	gate      *payment.Gate
	broker    *broker.Broker
	ws        *ws.Ws
	upgrader  websocket.Upgrader
	tokenAuth *jwtauth.JWTAuth
}

func NewHandler(cfg *config.Config,
	pricing *service.PricingEngine,
	entries *service.EntryService,
	rounds *service.RoundService,
	gate *payment.Gate,
	b *broker.Broker,
	s *ws.Ws) *Handler {
	return &Handler{
		cfg:     cfg,
		pricing: pricing,
		entries: entries,
		rounds:  rounds,
		gate:    gate,
		broker:  b,
		ws:      s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tokenAuth: jwtauth.New("HS256", []byte(cfg.AdminSecret), nil),
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// errorKind maps a failure to its status, stable kind and public message.
// Anything unrecognized is reported as storage_unavailable so driver text
// never reaches the client.
func errorKind(err error) (int, string, string) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotSatisfied):
		return http.StatusPaymentRequired, "payment_not_satisfied", "Payment required"
	case errors.Is(err, service.ErrMissingWalletAddress):
		return http.StatusBadRequest, "missing_wallet_address", "Wallet address required (X-Stacks-Address header)"
	case errors.Is(err, service.ErrNoEntries):
		return http.StatusBadRequest, "no_entries", "No entries in current round"
	case errors.Is(err, service.ErrAlreadyDrawn):
		return http.StatusConflict, "already_drawn", "Round already drawn, retry against the current round"
	case errors.Is(err, service.ErrDuplicateCode):
		return http.StatusInternalServerError, "duplicate_code", "Entry code collision, entry not recorded"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "Unauthorized"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request", "Bad request"
	default:
		return http.StatusInternalServerError, "storage_unavailable", "Service temporarily unavailable"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, kind, msg := errorKind(err)
	h.writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}
