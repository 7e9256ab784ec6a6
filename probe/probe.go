// Package probe validates that paid endpoints actually return usable data.
// A probe distinguishes "this endpoint is gated and would answer after
// payment" (a 402 challenge) from "this endpoint is broken or empty", so a
// catalog of paid resources can be checked without paying for each call.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/payrail/x402gate/header"
	"github.com/payrail/x402gate/logger"
)

// DataType classifies a probed response body.
type DataType string

const (
	DataJSON   DataType = "json"
	DataText   DataType = "text"
	DataBinary DataType = "binary"
	DataEmpty  DataType = "empty"
)

// Result is the outcome of probing one URL.
type Result struct {
	URL      string   `json:"url"`
	IsValid  bool     `json:"isValid"`
	HasData  bool     `json:"hasData"`
	DataType DataType `json:"dataType"`
	DataSize int      `json:"dataSize"`
	Status   int      `json:"status,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Options tunes a single probe or a batch.
type Options struct {
	// MinDataSize is the smallest body, in bytes, accepted from a 200.
	MinDataSize int

	// RequireJSON rejects 200 responses whose body is not valid JSON.
	RequireJSON bool

	// RequireFields lists top-level keys a JSON object body must carry.
	RequireFields []string

	// Timeout bounds each request. Zero means 10 seconds.
	Timeout time.Duration

	// Concurrency bounds batch fan-out. Zero means 5.
	Concurrency int

	// BatchDelay is the pause between batches. Zero means 200ms.
	BatchDelay time.Duration
}

const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 5
	defaultBatchDelay  = 200 * time.Millisecond
	maxBodyBytes       = 1 << 20
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = defaultBatchDelay
	}
	return o
}

// Prober checks paid endpoints for liveness and data quality.
type Prober struct {
	client *http.Client
	log    logger.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithLogger attaches a logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Prober) { p.log = l }
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		client: &http.Client{},
		log:    logger.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe fetches one URL and judges whether it serves usable data. The
// returned Result always carries a verdict; transport failures surface in
// Result.Error, never as a Go error.
func (p *Prober) Probe(ctx context.Context, url string, opts Options) Result {
	opts = opts.withDefaults()
	result := Result{URL: url, DataType: DataEmpty}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("invalid URL: %v", err)
		return result
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || os.IsTimeout(err) {
			result.Error = "Request timeout"
		} else {
			result.Error = fmt.Sprintf("request failed: %v", err)
		}
		return result
	}
	defer resp.Body.Close()
	result.Status = resp.StatusCode

	// A 402 means the endpoint is alive and gated. That is a valid paid
	// resource even though no data flows without a proof.
	if resp.StatusCode == http.StatusPaymentRequired {
		result.IsValid = true
		result.HasData = false
		warning := "endpoint requires payment"
		if ch := resp.Header.Get(header.Payment); ch != "" {
			warning = fmt.Sprintf("endpoint requires payment: %s", ch)
		}
		result.Warnings = append(result.Warnings, warning)
		return result
	}

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.Error = "Request timeout"
		} else {
			result.Error = fmt.Sprintf("failed to read body: %v", err)
		}
		return result
	}

	result.DataSize = len(body)
	result.DataType = classify(body)
	p.judge(&result, body, opts)
	return result
}

// judge applies the data-quality rules to a 200 response.
func (p *Prober) judge(result *Result, body []byte, opts Options) {
	if result.DataSize == 0 {
		result.Error = "empty response body"
		return
	}
	if result.DataSize < opts.MinDataSize {
		result.Error = fmt.Sprintf("response too small: %d bytes, need at least %d", result.DataSize, opts.MinDataSize)
		return
	}

	if result.DataType == DataJSON {
		if emptyJSON(body) {
			result.Error = "response is empty JSON"
			return
		}
		if len(opts.RequireFields) > 0 {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(body, &obj); err != nil {
				result.Error = "required fields check needs a JSON object"
				return
			}
			var missing []string
			for _, field := range opts.RequireFields {
				if _, ok := obj[field]; !ok {
					missing = append(missing, field)
				}
			}
			if len(missing) > 0 {
				result.Error = fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", "))
				return
			}
		}
	} else if opts.RequireJSON {
		result.Error = "response is not valid JSON"
		return
	}

	result.IsValid = true
	result.HasData = true
}

// classify guesses the body's shape. Valid JSON wins, then printable text,
// then binary.
func classify(body []byte) DataType {
	if len(body) == 0 {
		return DataEmpty
	}
	if json.Valid(body) {
		return DataJSON
	}
	if utf8.Valid(body) {
		return DataText
	}
	return DataBinary
}

// emptyJSON reports whether body is {}, [], null, or "".
func emptyJSON(body []byte) bool {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}

// ProbeMany probes urls in bounded batches. Fan-out within a batch is
// capped at opts.Concurrency, and batches are separated by opts.BatchDelay
// so target hosts are not hammered. One failing URL never aborts the rest.
func (p *Prober) ProbeMany(ctx context.Context, urls []string, opts Options) map[string]Result {
	opts = opts.withDefaults()

	results := make(map[string]Result, len(urls))
	var mu sync.Mutex

	for start := 0; start < len(urls); start += opts.Concurrency {
		end := start + opts.Concurrency
		if end > len(urls) {
			end = len(urls)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, url := range urls[start:end] {
			url := url
			g.Go(func() error {
				result := p.Probe(gctx, url, opts)
				mu.Lock()
				results[url] = result
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if end < len(urls) {
			select {
			case <-ctx.Done():
				p.log.Warn("batch probe cancelled", map[string]any{"completed": len(results), "total": len(urls)})
				return results
			case <-time.After(opts.BatchDelay):
			}
		}
	}

	p.log.Info("batch probe complete", map[string]any{"total": len(urls)})
	return results
}
