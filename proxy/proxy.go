// Package proxy forwards verified requests to upstream resource servers. It
// attaches the settlement receipt, strips hop-by-hop headers in both
// directions, retries transient transport failures with exponential backoff,
// and optionally caches idempotent responses for a short TTL.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/cache"
	"github.com/payrail/x402gate/header"
	"github.com/payrail/x402gate/logger"
	"github.com/payrail/x402gate/metrics"
	"github.com/payrail/x402gate/retry"
)

// Request describes one upstream call to make on a payer's behalf.
type Request struct {
	UpstreamURL   string
	Path          string
	Method        string
	Headers       http.Header
	Body          []byte
	PaymentHeader string
}

// Response is the upstream's answer, with hop-by-hop headers removed.
// A non-2xx upstream status is still a successful proxy operation: the
// status is the upstream's to report, never collapsed into a gateway error.
type Response struct {
	Success bool
	Status  int
	Data    []byte
	Headers http.Header
	Error   string
}

// Hop-by-hop headers dropped from forwarded requests.
var requestStripHeaders = []string{"Host", "Connection", "Content-Length"}

// Hop-by-hop headers dropped from upstream responses.
var responseStripHeaders = []string{"Content-Encoding", "Transfer-Encoding", "Connection", "Keep-Alive"}

// Forwarder proxies verified requests upstream.
type Forwarder struct {
	client      *http.Client
	maxAttempts int
	cache       *cache.TTL[Response]
	log         logger.Logger
	rec         metrics.Recorder
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// WithMaxAttempts sets the total attempts per upstream call.
func WithMaxAttempts(n int) Option {
	return func(f *Forwarder) { f.maxAttempts = n }
}

// WithCache enables response caching for GET and HEAD with the given TTL.
func WithCache(ttl time.Duration) Option {
	return func(f *Forwarder) { f.cache = cache.New[Response](ttl) }
}

// WithLogger attaches a logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Forwarder) { f.log = l }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *Forwarder) { f.rec = r }
}

// New creates a Forwarder.
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		client:      &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		log:         logger.Noop{},
		rec:         metrics.Noop{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close releases the response cache, if any.
func (f *Forwarder) Close() {
	if f.cache != nil {
		f.cache.Stop()
	}
}

// Forward performs the upstream call. Transport failures are retried up to
// the configured attempts; after exhaustion the Response carries a 502 and
// the returned error wraps ErrUpstreamUnreachable. An upstream error status
// is returned as-is with a nil error.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	target, err := joinURL(req.UpstreamURL, req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402gate.ErrBadUpstreamURL, err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	cacheKey := ""
	if f.cache != nil && (method == http.MethodGet || method == http.MethodHead) {
		cacheKey = responseKey(method, target, req.Body)
		if cached, ok := f.cache.Get(cacheKey); ok {
			f.rec.IncCounter("proxy_cache_hit", map[string]string{"type": method, "network": ""})
			return &cached, nil
		}
	}

	start := time.Now()
	resp, err := retry.Do(ctx, retry.Upstream(f.maxAttempts), retryableUpstream, func() (*Response, error) {
		return f.attempt(ctx, method, target, req)
	})
	f.rec.ObserveLatency("proxy_forward", time.Since(start), map[string]string{"operation": method, "network": ""})

	if err != nil {
		// A 5xx that survived every retry is still the upstream's answer.
		var rs *retryableStatus
		if errors.As(err, &rs) {
			return rs.resp, nil
		}
		f.log.Warn("upstream unreachable", map[string]any{"url": target, "error": err.Error()})
		f.rec.IncCounter("proxy_failed", map[string]string{"type": method, "network": ""})
		return &Response{
			Success: false,
			Status:  http.StatusBadGateway,
			Error:   err.Error(),
		}, fmt.Errorf("%w: %v", x402gate.ErrUpstreamUnreachable, err)
	}

	if cacheKey != "" && resp.Success {
		f.cache.Set(cacheKey, *resp)
	}
	return resp, nil
}

// retryableStatus is returned from an attempt for a 5xx so the retry loop
// tries again; the final Response still carries the upstream status.
type retryableStatus struct {
	resp *Response
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.resp.Status)
}

func retryableUpstream(err error) bool {
	return true
}

func (f *Forwarder) attempt(ctx context.Context, method, target string, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	hreq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	copyRequestHeaders(hreq.Header, req.Headers)
	if req.PaymentHeader != "" {
		hreq.Header.Set(header.PaymentProof, req.PaymentHeader)
	}

	hresp, err := f.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Success: hresp.StatusCode >= 200 && hresp.StatusCode < 300,
		Status:  hresp.StatusCode,
		Data:    data,
		Headers: copyResponseHeaders(hresp.Header),
	}
	if !resp.Success {
		resp.Error = fmt.Sprintf("upstream returned status %d", hresp.StatusCode)
	}

	// Retry server-side failures; client errors and redirects stand.
	if hresp.StatusCode >= 500 {
		return nil, &retryableStatus{resp: resp}
	}
	return resp, nil
}

func copyRequestHeaders(dst http.Header, src http.Header) {
	for name, values := range src {
		if stripHeader(name, requestStripHeaders) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func copyResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for name, values := range src {
		if stripHeader(name, responseStripHeaders) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	return dst
}

func stripHeader(name string, list []string) bool {
	for _, h := range list {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// responseKey derives a cache key from the request identity. The body hash
// keeps distinct conditional GETs from colliding.
func responseKey(method, target string, body []byte) string {
	h := crypto.Keccak256(body)
	return method + " " + target + " " + hexutil.Encode(h)
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", base)
	}
	if path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	return u.String(), nil
}
