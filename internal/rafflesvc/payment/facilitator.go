package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Facilitator settles payments through a remote x402 facilitator:
//
//	POST {URL}/settle {signedTransaction, expectedRecipient, minAmount, tokenType, network, resource}
//	-> {success, txId, payer, error}
type Facilitator struct {
	URL       string
	TokenType string
	Client    *http.Client
}

func NewFacilitator(url, tokenType string, timeout time.Duration) *Facilitator {
	return &Facilitator{
		URL:       url,
		TokenType: tokenType,
		Client:    &http.Client{Timeout: timeout},
	}
}

type settleRequest struct {
	SignedTransaction string `json:"signedTransaction"`
	ExpectedRecipient string `json:"expectedRecipient"`
	MinAmount         string `json:"minAmount"`
	TokenType         string `json:"tokenType"`
	Network           string `json:"network"`
	Resource          string `json:"resource"`
}

type settleResponse struct {
	Success bool   `json:"success"`
	TxID    string `json:"txId"`
	Payer   string `json:"payer"`
	Error   string `json:"error"`
}

func (f *Facilitator) Settle(ctx context.Context, p *Payload, req Requirement) (*Settlement, error) {
	if p.Network != "" && p.Network != req.Network {
		return nil, fmt.Errorf("%w: network %s does not match %s", ErrPaymentNotSatisfied, p.Network, req.Network)
	}

	body, err := json.Marshal(settleRequest{
		SignedTransaction: p.Payload.SignedTransaction,
		ExpectedRecipient: req.PayTo,
		MinAmount:         req.MaxAmountRequired,
		TokenType:         f.TokenType,
		Network:           req.Network,
		Resource:          req.Resource,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL+"/settle", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFacilitatorUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: facilitator returned %s", ErrFacilitatorUnavailable, resp.Status)
	}

	var out settleResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode settle response: %v", ErrFacilitatorUnavailable, err)
	}
	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = "settlement rejected"
		}
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotSatisfied, reason)
	}

	return &Settlement{
		Success: true,
		TxID:    out.TxID,
		Payer:   out.Payer,
		Network: req.Network,
	}, nil
}
