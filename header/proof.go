package header

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/payrail/x402gate"
)

// EncodeProof converts a PaymentProof to the base64-encoded JSON carried in
// the request-direction X-Payment header.
func EncodeProof(proof x402gate.PaymentProof) (string, error) {
	data, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeProof parses a request-direction X-Payment header back into a
// PaymentProof. Returns ErrInvalidProof if the header is not base64 or not
// valid JSON.
func DecodeProof(encoded string) (x402gate.PaymentProof, error) {
	var proof x402gate.PaymentProof

	if encoded == "" {
		return proof, fmt.Errorf("%w: empty header", x402gate.ErrInvalidProof)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return proof, fmt.Errorf("%w: %v", x402gate.ErrInvalidProof, err)
	}
	if err := json.Unmarshal(decoded, &proof); err != nil {
		return proof, fmt.Errorf("%w: %v", x402gate.ErrInvalidProof, err)
	}
	if proof.X402Version != 0 && proof.X402Version != ProtocolVersion {
		return proof, fmt.Errorf("%w: %d", x402gate.ErrUnsupportedVersion, proof.X402Version)
	}
	return proof, nil
}

// EncodeReceipt converts a Receipt to the JSON string carried in the
// X-Payment-Response header.
func EncodeReceipt(r x402gate.Receipt) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return string(data), nil
}

// DecodeReceipt parses an X-Payment-Response header.
func DecodeReceipt(s string) (x402gate.Receipt, error) {
	var r x402gate.Receipt
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return r, fmt.Errorf("%w: %v", x402gate.ErrMalformedHeader, err)
	}
	return r, nil
}

// NewReceipt builds a success or payment-required receipt stamped with the
// given instant in ISO-8601.
func NewReceipt(status string, result x402gate.VerificationResult, now time.Time) x402gate.Receipt {
	return x402gate.Receipt{
		Status:          status,
		Amount:          result.Amount,
		Reference:       result.Reference,
		TransactionHash: result.TransactionHash,
		Timestamp:       now.UTC().Format(time.RFC3339),
	}
}
