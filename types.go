package x402gate

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// FieldDef describes the shape of a single field in a resource's request or response.
type FieldDef struct {
	Type        string              `json:"type,omitempty"`
	Required    bool                `json:"required,omitempty"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Properties  map[string]FieldDef `json:"properties,omitempty"`
}

// OutputSchema describes the expected request/response shape of a gated resource.
type OutputSchema struct {
	Input  map[string]FieldDef `json:"input,omitempty"`
	Output map[string]FieldDef `json:"output,omitempty"`
}

// PaymentRequirement represents one accepted payment method for a gated resource.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme" validate:"required,oneof=exact max subscription"`

	// Network is the blockchain network identifier (e.g., "base", "solana").
	Network string `json:"network" validate:"required"`

	// Asset is the token contract address (EVM), mint address (Solana), or the
	// native-asset sentinel.
	Asset string `json:"asset" validate:"required"`

	// MaxAmountRequired is the payment amount in atomic units as a decimal
	// integer string (e.g., "50000" for 0.05 USDC).
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo" validate:"required"`

	// MaxTimeoutSeconds is the validity window for a payment proof.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"gt=0"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource,omitempty"`

	// Description is an optional human-readable payment description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// Extra carries optional token metadata (name, version, decimals).
	Extra map[string]any `json:"extra,omitempty"`

	// OutputSchema optionally describes the resource's request/response shape.
	OutputSchema *OutputSchema `json:"outputSchema,omitempty"`
}

var structValidator = validator.New()

// Validate checks the structural invariants of a requirement: tagged field
// constraints, a supported network, addresses that match the network's format,
// and a non-negative integer amount.
func (r PaymentRequirement) Validate(reg *Registry) error {
	switch r.Scheme {
	case "exact", "max", "subscription":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, r.Scheme)
	}
	if err := structValidator.Struct(r); err != nil {
		return err
	}
	net, err := reg.Lookup(r.Network)
	if err != nil {
		return err
	}
	if err := ValidateAtomicAmount(r.MaxAmountRequired); err != nil {
		return err
	}
	if err := ValidateAddress(net.Type, r.PayTo); err != nil {
		return err
	}
	if r.Asset == NativeAssetSentinel {
		return nil
	}
	return ValidateAddress(net.Type, r.Asset)
}

// PaymentRequirementsResponse is the JSON body of a 402 challenge response.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable reason the request was not served.
	Error string `json:"error"`

	// Accepts lists the payment methods the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentProof is the client-submitted evidence of payment carried in the
// X-Payment request header as base64-encoded JSON. The signature is opaque to
// this package; cryptographic validation is the facilitator's responsibility.
type PaymentProof struct {
	// X402Version is the protocol version the proof was produced for.
	// Zero is read as version 1 for headers from early clients.
	X402Version int `json:"x402Version,omitempty"`

	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units.
	Value string `json:"value"`

	// Asset is the token address the payment is denominated in.
	Asset string `json:"asset"`

	// Network is the chain the payment was authorized on.
	Network string `json:"network"`

	// ValidAfter and ValidBefore bound the authorization window (unix seconds).
	ValidAfter  string `json:"validAfter,omitempty"`
	ValidBefore string `json:"validBefore,omitempty"`

	// Nonce is the challenge nonce the proof answers: the challenge's encoding
	// instant in milliseconds since epoch. It anchors the freshness check.
	Nonce string `json:"nonce"`

	// Signature is the hex- or base58-encoded signature binding the fields above.
	Signature string `json:"signature"`
}

// VerificationStatus is the state of a VerificationResult.
type VerificationStatus string

const (
	// StatusSuccess means the facilitator accepted the proof. Terminal.
	StatusSuccess VerificationStatus = "success"
	// StatusPending means settlement is in flight and the outcome is unknown.
	StatusPending VerificationStatus = "pending"
	// StatusFailed means the proof was rejected or could not be checked. Terminal.
	StatusFailed VerificationStatus = "failed"
)

// VerificationResult is the immutable outcome of verifying a PaymentProof
// against a PaymentRequirement. A retry produces a new result; results are
// never mutated after creation.
type VerificationResult struct {
	Status VerificationStatus `json:"status"`

	// Amount is the verified payment amount in atomic units (success only).
	Amount string `json:"amount,omitempty"`

	// Reference is the facilitator-issued reference id, or a locally generated
	// fallback of the form "x402_<ms>_<rand>".
	Reference string `json:"reference,omitempty"`

	// TransactionHash is the settlement transaction hash, when available.
	TransactionHash string `json:"transactionHash,omitempty"`

	// Error is the failure reason (failed only).
	Error string `json:"error,omitempty"`

	// Timestamp is when the result was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the result will never change on its own.
func (r VerificationResult) Terminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

// Receipt is the X-Payment-Response header payload attached to a response
// served after a successful payment, or to a 402 challenge.
type Receipt struct {
	// Status is "success" or "payment_required".
	Status string `json:"status"`

	// Amount is the verified amount in atomic units.
	Amount string `json:"amount,omitempty"`

	// Reference is the verification reference id.
	Reference string `json:"reference,omitempty"`

	// TransactionHash is the settlement transaction hash, omitted when unknown.
	TransactionHash string `json:"transactionHash,omitempty"`

	// Timestamp is the ISO-8601 instant the receipt was issued.
	Timestamp string `json:"timestamp"`
}

// Receipt status values.
const (
	ReceiptStatusSuccess         = "success"
	ReceiptStatusPaymentRequired = "payment_required"
)
