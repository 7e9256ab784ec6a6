package route

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/logger"
)

// Chain is a network as reported by the routing provider.
type Chain struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Token is an asset tradable on a provider chain.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// QuoteParams identifies the swap a quote should price.
type QuoteParams struct {
	SourceChain      string `json:"sourceChain"`
	SourceToken      string `json:"sourceToken"`
	DestinationChain string `json:"destinationChain"`
	DestinationToken string `json:"destinationToken"`
	Amount           string `json:"amount"`
	FromAddress      string `json:"fromAddress"`
	Recipient        string `json:"recipient"`
}

// Quote is a priced, time-bounded cross-chain execution plan. A quote is
// consumed at most once: on-chain prices move, so each execution must
// re-fetch or invalidate the quote it used.
type Quote struct {
	ID               string    `json:"id"`
	SourceChain      string    `json:"sourceChain"`
	DestinationChain string    `json:"destinationChain"`
	Fee              string    `json:"fee"`
	EstimatedTime    int       `json:"estimatedTime"`
	MinAmount        string    `json:"minAmount,omitempty"`
	MaxAmount        string    `json:"maxAmount,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`

	consumed atomic.Bool
}

// Consume marks the quote used. Returns ErrQuoteConsumed on a second call
// and ErrQuoteExpired if its validity window has passed.
func (q *Quote) Consume(now time.Time) error {
	if !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt) {
		return x402gate.ErrQuoteExpired
	}
	if !q.consumed.CompareAndSwap(false, true) {
		return x402gate.ErrQuoteConsumed
	}
	return nil
}

// SubmitRequest asks the provider to execute a quoted swap with a
// wallet-produced signature.
type SubmitRequest struct {
	QuoteID     string `json:"quoteId"`
	FromAddress string `json:"fromAddress"`
	Recipient   string `json:"recipient"`
	Signature   string `json:"signature"`
}

// StatusResponse reports the per-phase state of an in-flight swap.
type StatusResponse struct {
	Phases        map[Phase]PhaseState `json:"phases"`
	SourceTx      string               `json:"sourceTx,omitempty"`
	DestinationTx string               `json:"destinationTx,omitempty"`
}

// Provider is an HTTP client for a DEX/bridge routing aggregator.
type Provider struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	log     logger.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithProviderHTTPClient replaces the underlying http.Client.
func WithProviderHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithProviderTimeout sets the per-call budget.
func WithProviderTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.timeout = d }
}

// WithProviderLogger attaches a logger.
func WithProviderLogger(l logger.Logger) ProviderOption {
	return func(p *Provider) { p.log = l }
}

// NewProvider creates a routing-provider client.
func NewProvider(baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: 15 * time.Second,
		log:     logger.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Chains lists the provider's supported networks.
func (p *Provider) Chains(ctx context.Context) ([]Chain, error) {
	var chains []Chain
	if err := p.get(ctx, "/chains", &chains); err != nil {
		return nil, err
	}
	return chains, nil
}

// Tokens lists the assets tradable on one chain.
func (p *Provider) Tokens(ctx context.Context, chainID string) ([]Token, error) {
	var tokens []Token
	if err := p.get(ctx, "/tokens?chain="+chainID, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// TokenBalance returns the atomic-unit balance of address for a token.
func (p *Provider) TokenBalance(ctx context.Context, chainID, token, address string) (string, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	path := fmt.Sprintf("/balance?chain=%s&token=%s&address=%s", chainID, token, address)
	if err := p.get(ctx, path, &resp); err != nil {
		return "", err
	}
	return resp.Balance, nil
}

// GetQuote prices a cross-chain swap. The returned quote is single-use.
// A provider 404 means both chains are known but no path connects them,
// which is ErrRouteNotFound, distinct from an unsupported chain.
func (p *Provider) GetQuote(ctx context.Context, params QuoteParams) (*Quote, error) {
	var quote Quote
	if err := p.post(ctx, "/quote", params, &quote); err != nil {
		if status, ok := statusOf(err); ok && status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s -> %s", x402gate.ErrRouteNotFound, params.SourceChain, params.DestinationChain)
		}
		return nil, err
	}
	return &quote, nil
}

// Submit starts execution of a quoted swap and returns the swap id used for
// status polling.
func (p *Provider) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var resp struct {
		SwapID string `json:"swapId"`
	}
	if err := p.post(ctx, "/swap", req, &resp); err != nil {
		return "", err
	}
	if resp.SwapID == "" {
		return "", fmt.Errorf("provider returned no swap id")
	}
	return resp.SwapID, nil
}

// Status reports the per-phase state of a swap.
func (p *Provider) Status(ctx context.Context, swapID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := p.get(ctx, "/swap/"+swapID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (p *Provider) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return p.do(req, out)
}

func (p *Provider) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, out)
}

// statusError is a non-2xx answer from the routing provider.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("routing provider returned status %d: %s", e.code, e.body)
}

// statusOf extracts the provider status code from an error chain.
func statusOf(err error) (int, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se.code, true
	}
	return 0, false
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("routing provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
