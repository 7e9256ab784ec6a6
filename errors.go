package x402gate

import "errors"

// Error taxonomy. Payment-domain errors (malformed, expired, verification
// failed) always resolve to HTTP 402 at the gate; only unexpected internal
// faults become 500s.

var (
	// ErrPaymentRequired indicates that payment is required to access the resource.
	ErrPaymentRequired = errors.New("payment required")

	// ErrMalformedHeader indicates that a payment header could not be parsed.
	ErrMalformedHeader = errors.New("malformed payment header")

	// ErrInvalidProof indicates a structurally malformed payment proof.
	ErrInvalidProof = errors.New("invalid payment proof")

	// ErrExpired indicates the proof's nonce+ttl window has passed.
	ErrExpired = errors.New("payment proof expired")

	// ErrVerificationFailed indicates the facilitator rejected the proof.
	ErrVerificationFailed = errors.New("payment verification failed")

	// ErrFacilitatorUnavailable indicates the facilitator could not be reached.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")

	// ErrSettlementFailed indicates on-chain settlement failed.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("unsupported x402 version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("unsupported payment scheme")

	// ErrUnsupportedNetwork indicates a chain outside the supported registry.
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrRouteNotFound indicates no bridge path exists between two supported chains.
	ErrRouteNotFound = errors.New("no route between chains")

	// ErrQuoteConsumed indicates a cross-chain quote was already used once.
	ErrQuoteConsumed = errors.New("quote already consumed")

	// ErrQuoteExpired indicates a cross-chain quote's validity window passed.
	ErrQuoteExpired = errors.New("quote expired")

	// ErrQuoteRequired indicates a bridged payment was attempted without
	// fetching a quote first.
	ErrQuoteRequired = errors.New("quote required")

	// ErrInvalidAmount indicates an amount string that is not a representable
	// non-negative value at the asset's precision.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUpstreamUnreachable indicates the proxied upstream could not be reached.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrBadUpstreamURL indicates a malformed upstream target URL.
	ErrBadUpstreamURL = errors.New("bad upstream url")

	// ErrTimeout indicates an external call timed out.
	ErrTimeout = errors.New("operation timed out")
)
