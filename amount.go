package x402gate

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the precision of USDC on every supported chain.
const USDCDecimals = 6

// All amount math goes through integer or decimal arithmetic. Floating point
// never touches a payment amount.

// ValidateAtomicAmount checks that s is a non-negative integer string, the
// only legal representation of an atomic-unit amount.
func ValidateAtomicAmount(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	if n.Sign() < 0 {
		return fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	return nil
}

// FormatAtomic converts an atomic-unit integer string into a decimal string
// with exactly decimals fractional digits. "50000" at 6 decimals becomes
// "0.050000". The conversion is exact for any integer input.
func FormatAtomic(atomic string, decimals int) (string, error) {
	if err := ValidateAtomicAmount(atomic); err != nil {
		return "", err
	}
	n, _ := new(big.Int).SetString(atomic, 10)
	return decimal.NewFromBigInt(n, int32(-decimals)).StringFixed(int32(decimals)), nil
}

// ToAtomic converts a decimal amount string into an atomic-unit integer
// string. "0.05" at 6 decimals becomes "50000". Returns ErrInvalidAmount if
// the amount is negative, not a decimal, or carries more fractional digits
// than the asset can represent.
func ToAtomic(amount string, decimals int) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amount)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return "", fmt.Errorf("%w: %q exceeds %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	return shifted.BigInt().String(), nil
}

// RequirementDecimals returns the token precision for a requirement: the
// extra.decimals override when present, USDC's 6 otherwise.
func RequirementDecimals(r PaymentRequirement) int {
	if r.Extra != nil {
		switch v := r.Extra["decimals"].(type) {
		case int:
			return v
		case float64:
			// JSON numbers decode as float64.
			return int(v)
		}
	}
	return USDCDecimals
}
