package facilitator

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// CDPAuth generates bearer JWTs for facilitators fronted by the Coinbase
// Developer Platform. It is immutable after construction and safe for
// concurrent use; the parsed private key is cached.
type CDPAuth struct {
	apiKeyName string
	host       string
	privateKey any
}

// cdpClaims extends the standard JWT claims with the CDP request URI claim.
type cdpClaims struct {
	*jwt.Claims
	URI string `json:"uri"`
}

// NewCDPAuth parses a PEM-encoded ECDSA or Ed25519 API key secret and returns
// an auth generator for the given facilitator host.
func NewCDPAuth(apiKeyName, apiKeySecret, host string) (*CDPAuth, error) {
	if apiKeyName == "" {
		return nil, fmt.Errorf("apiKeyName must not be empty")
	}

	block, _ := pem.Decode([]byte(apiKeySecret))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block: invalid PEM format")
	}

	var privateKey any
	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// PKCS8 covers both ECDSA and Ed25519 keys.
		privateKey, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	switch privateKey.(type) {
	case *ecdsa.PrivateKey:
	case crypto.Signer:
	default:
		return nil, fmt.Errorf("unsupported private key type: must be ECDSA or Ed25519")
	}

	return &CDPAuth{apiKeyName: apiKeyName, host: host, privateKey: privateKey}, nil
}

// BearerToken generates a JWT valid for two minutes, bound to the request's
// method and path.
func (a *CDPAuth) BearerToken(method, path string) (string, error) {
	var alg jose.SignatureAlgorithm
	switch a.privateKey.(type) {
	case *ecdsa.PrivateKey:
		alg = jose.ES256
	default:
		alg = jose.EdDSA
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: a.privateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.apiKeyName),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := time.Now()
	claims := cdpClaims{
		Claims: &jwt.Claims{
			Subject:   a.apiKeyName,
			Issuer:    "coinbase-cloud",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(2 * time.Minute)),
		},
		URI: fmt.Sprintf("%s %s%s", method, a.host, path),
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return token, nil
}

// Provider adapts CDPAuth to the client's TokenProvider hook.
func (a *CDPAuth) Provider() TokenProvider {
	return func(_ context.Context, method, path string) (string, error) {
		token, err := a.BearerToken(method, path)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	}
}
