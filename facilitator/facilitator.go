// Package facilitator defines the contract with the external service that
// performs cryptographic and on-chain validation of payment proofs, and an
// HTTP client implementation. This gateway never re-implements signature
// verification or chain-state reads; it delegates both here.
package facilitator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/payrail/x402gate"
)

// Interface is the facilitator contract. Every call must carry a context and
// resolve within the client's configured timeout.
type Interface interface {
	// Verify checks a payment proof without executing the transaction.
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error)

	// Settle executes a verified payment on the blockchain.
	Settle(ctx context.Context, req VerifyRequest) (*SettleResponse, error)

	// Supported queries the facilitator for supported payment kinds.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// VerifyRequest is the body POSTed to the facilitator's /verify and /settle
// endpoints.
type VerifyRequest struct {
	// PaymentHeader is the raw base64 X-Payment header as received.
	PaymentHeader string `json:"paymentHeader"`

	// ClientProof is the signature or auxiliary proof material.
	ClientProof string `json:"clientProof,omitempty"`

	// Nonce is the challenge nonce the proof answers.
	Nonce string `json:"nonce"`

	// Amount is the payment amount in atomic units.
	Amount string `json:"amount"`
}

// VerifyResponse is the facilitator's 2xx answer to /verify.
type VerifyResponse struct {
	// Reference is the facilitator-issued verification reference id.
	Reference string `json:"reference"`

	// TransactionHash is the settlement transaction, when already known.
	TransactionHash string `json:"transactionHash,omitempty"`
}

// SettleResponse is the facilitator's answer to /settle.
type SettleResponse struct {
	Success         bool   `json:"success"`
	ErrorReason     string `json:"errorReason,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Network         string `json:"network,omitempty"`
	Payer           string `json:"payer,omitempty"`
}

// SupportedKind describes one payment kind a facilitator accepts.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse lists all payment kinds supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// StatusError reports a non-2xx facilitator response. The verifier surfaces
// its status and message verbatim in the failed VerificationResult.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("facilitator returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("facilitator returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets a facilitator 402 match ErrPaymentRequired via errors.Is.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusPaymentRequired {
		return x402gate.ErrPaymentRequired
	}
	return nil
}
