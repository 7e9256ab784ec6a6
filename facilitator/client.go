package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/logger"
)

// TokenProvider returns an Authorization header value for a request. Used for
// facilitators whose credentials rotate (e.g., CDP bearer JWTs).
type TokenProvider func(ctx context.Context, method, path string) (string, error)

// Client talks to a facilitator over HTTP.
type Client struct {
	baseURL string
	client  *http.Client

	verifyTimeout time.Duration
	// Settlement rides a blockchain transaction and gets a longer budget.
	settleTimeout time.Duration

	authorization string
	tokenProvider TokenProvider

	log logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithTimeouts sets the verify and settle call budgets.
func WithTimeouts(verify, settle time.Duration) Option {
	return func(cl *Client) {
		cl.verifyTimeout = verify
		cl.settleTimeout = settle
	}
}

// WithAuthorization sets a static Authorization header value.
func WithAuthorization(value string) Option {
	return func(cl *Client) { cl.authorization = value }
}

// WithTokenProvider sets a dynamic Authorization source. Takes precedence
// over WithAuthorization.
func WithTokenProvider(p TokenProvider) Option {
	return func(cl *Client) { cl.tokenProvider = p }
}

// WithLogger attaches a logger.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// NewClient creates a facilitator client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{},
		verifyTimeout: 15 * time.Second,
		settleTimeout: 60 * time.Second,
		log:           logger.Noop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify implements Interface. Network errors wrap ErrFacilitatorUnavailable;
// non-2xx responses return a *StatusError carrying the facilitator's message.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "/verify", c.verifyTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle implements Interface. A facilitator rejection wraps
// ErrSettlementFailed; so does a 2xx response reporting failure.
func (c *Client) Settle(ctx context.Context, req VerifyRequest) (*SettleResponse, error) {
	var resp SettleResponse
	if err := c.post(ctx, "/settle", c.settleTimeout, req, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, fmt.Errorf("%w: %w", x402gate.ErrSettlementFailed, err)
		}
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", x402gate.ErrSettlementFailed, resp.ErrorReason)
	}
	return &resp, nil
}

// Supported implements Interface.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.authorize(ctx, httpReq, http.MethodGet, "/supported"); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402gate.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var supported SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supported); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return &supported, nil
}

func (c *Client) post(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, httpReq, http.MethodPost, path); err != nil {
		return err
	}

	c.log.Debug("facilitator request", map[string]any{"path": path, "bytes": len(data)})

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", x402gate.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
		c.log.Warn("facilitator rejected request", map[string]any{"path": path, "status": resp.StatusCode})
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request, method, path string) error {
	if c.tokenProvider != nil {
		token, err := c.tokenProvider(ctx, method, path)
		if err != nil {
			return fmt.Errorf("authorization token: %w", err)
		}
		req.Header.Set("Authorization", token)
		return nil
	}
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}
	return nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}
