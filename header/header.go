// Package header implements the x402 wire header codecs: the query-string
// encoded 402 challenge, the base64+JSON payment proof, and the JSON payment
// receipt. All functions are stateless translations between structured data
// and header strings.
package header

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/payrail/x402gate"
)

// Header names used by the protocol. The X-Payment header is bidirectional:
// a challenge in the response direction, a proof in the request direction.
const (
	Payment         = "X-Payment"
	PaymentResponse = "X-Payment-Response"
	PaymentProof    = "X-Payment-Proof"
)

// Challenge default field values applied when decoding a header with missing
// keys.
const (
	DefaultCurrency    = "USDC"
	DefaultFacilitator = "cdp"
	DefaultTTL         = 300
)

// ProtocolVersion is the x402 wire version this codec speaks.
const ProtocolVersion = 1

// Challenge is the decoded form of a 402 challenge header. It is created
// fresh per issuance and never persisted; it expires at nonce + ttl*1000
// wall-clock milliseconds.
type Challenge struct {
	// Price is the human-readable decimal price.
	Price string

	// Currency is the quote currency (e.g., "USDC").
	Currency string

	// Facilitator identifies the verification service the payer should use.
	Facilitator string

	// MaxAmount is the maximum charge in atomic units.
	MaxAmount string

	// Nonce is the encoding instant in milliseconds since epoch. It doubles
	// as the freshness anchor; see the package-level replay note.
	Nonce string

	// TTL is the challenge validity window in seconds.
	TTL int
}

// The nonce is both a uniqueness token and the freshness anchor, which gives
// no real anti-replay guarantee on its own: an unexpired proof can be
// resubmitted. Replay prevention is delegated to the facilitator's nonce
// ledger. Kept this way for wire compatibility.

// EncodeChallenge builds a challenge header for the given price, atomic max
// amount and ttl, using the current instant as the nonce.
func EncodeChallenge(price, maxAmount string, ttlSeconds int) string {
	return EncodeChallengeAt(price, maxAmount, ttlSeconds, time.Now())
}

// EncodeChallengeAt is EncodeChallenge with an explicit encoding instant.
// Key order is fixed and significant for byte-exact round-trips.
func EncodeChallengeAt(price, maxAmount string, ttlSeconds int, now time.Time) string {
	return fmt.Sprintf("price=%s&currency=%s&facilitator=%s&maxAmount=%s&nonce=%d&ttl=%d",
		url.QueryEscape(price), DefaultCurrency, DefaultFacilitator,
		url.QueryEscape(maxAmount), now.UnixMilli(), ttlSeconds)
}

// DecodeChallenge parses a challenge header. Missing keys take the documented
// defaults (price "0", currency "USDC", facilitator "cdp", maxAmount "0",
// nonce "", ttl 300); a header that cannot be parsed at all returns
// ErrMalformedHeader.
func DecodeChallenge(h string) (Challenge, error) {
	values, err := url.ParseQuery(h)
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", x402gate.ErrMalformedHeader, err)
	}

	c := Challenge{
		Price:       "0",
		Currency:    DefaultCurrency,
		Facilitator: DefaultFacilitator,
		MaxAmount:   "0",
		TTL:         DefaultTTL,
	}
	if v := values.Get("price"); v != "" {
		c.Price = v
	}
	if v := values.Get("currency"); v != "" {
		c.Currency = v
	}
	if v := values.Get("facilitator"); v != "" {
		c.Facilitator = v
	}
	if v := values.Get("maxAmount"); v != "" {
		c.MaxAmount = v
	}
	c.Nonce = values.Get("nonce")
	if v := values.Get("ttl"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil || ttl <= 0 {
			return Challenge{}, fmt.Errorf("%w: bad ttl %q", x402gate.ErrMalformedHeader, v)
		}
		c.TTL = ttl
	}
	return c, nil
}

// ExpiredAt reports whether the challenge window has passed at the given
// instant: now > nonce + ttl*1000 in wall-clock milliseconds. A challenge
// with a missing or unparseable nonce is treated as expired.
func (c Challenge) ExpiredAt(now time.Time) bool {
	return Expired(c.Nonce, c.TTL, now)
}

// Expired is the shared freshness rule for challenges and proofs. The
// comparison is strict: a check at exactly nonce + ttl*1000 still passes and
// only instants after it are expired, so the validity window is closed on
// both ends. Callers that want the boundary instant rejected must subtract
// before calling.
func Expired(nonce string, ttlSeconds int, now time.Time) bool {
	anchor, err := strconv.ParseInt(nonce, 10, 64)
	if err != nil {
		return true
	}
	return now.UnixMilli() > anchor+int64(ttlSeconds)*1000
}
