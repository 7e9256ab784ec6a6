// Package verify decides whether a submitted payment proof satisfies a
// payment requirement. Structural parsing and freshness are checked locally;
// cryptographic and settlement validation is delegated to the facilitator.
//
// Verification failures are always reported to the caller and never retried
// here: retrying a payment proof is a client decision. Replay prevention is
// likewise delegated to the facilitator's nonce ledger; this package keeps no
// persistent proof state.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/cache"
	"github.com/payrail/x402gate/facilitator"
	"github.com/payrail/x402gate/header"
	"github.com/payrail/x402gate/logger"
	"github.com/payrail/x402gate/metrics"
)

// Service verifies payment proofs against a facilitator. Construct with New;
// one Service per facilitator configuration.
type Service struct {
	facilitator facilitator.Interface
	fallback    facilitator.Interface

	// resultCache holds successful results keyed by a keccak hash of the raw
	// proof header, purely to reduce facilitator load. Hits still re-check
	// freshness before being honored.
	resultCache *cache.TTL[x402gate.VerificationResult]

	now func() time.Time
	log logger.Logger
	rec metrics.Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithFallback adds a second facilitator consulted when the primary is
// unreachable. A rejection by the primary is final and does not fail over.
func WithFallback(f facilitator.Interface) Option {
	return func(s *Service) { s.fallback = f }
}

// WithCache enables the advisory verification cache with the given TTL.
func WithCache(ttl time.Duration) Option {
	return func(s *Service) { s.resultCache = cache.New[x402gate.VerificationResult](ttl) }
}

// WithLogger attaches a logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) { s.rec = r }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a verification service backed by the given facilitator.
func New(f facilitator.Interface, opts ...Option) *Service {
	s := &Service{
		facilitator: f,
		now:         time.Now,
		log:         logger.Noop{},
		rec:         metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify checks proofHeader against req and returns an immutable result.
// The outcome is always a VerificationResult, never a Go error: failure
// reasons travel in Result.Error so the gate can map every payment-domain
// failure to a 402.
func (s *Service) Verify(ctx context.Context, proofHeader string, req x402gate.PaymentRequirement) x402gate.VerificationResult {
	started := s.now()
	labels := map[string]string{"network": req.Network}

	proof, err := header.DecodeProof(proofHeader)
	if err != nil {
		s.rec.IncCounter("verify_invalid_proof", labels)
		return s.failed(fmt.Sprintf("invalid payment proof: %v", err))
	}

	// Freshness comes before everything else, including the cache and the
	// facilitator: an expired proof is rejected no matter what anyone says.
	ttl := req.MaxTimeoutSeconds
	if ttl <= 0 {
		ttl = header.DefaultTTL
	}
	if header.Expired(proof.Nonce, ttl, s.now()) {
		s.rec.IncCounter("verify_expired", labels)
		return s.failed(x402gate.ErrExpired.Error())
	}

	cacheKey := hexutil.Encode(crypto.Keccak256([]byte(proofHeader)))
	if s.resultCache != nil {
		if cached, ok := s.resultCache.Get(cacheKey); ok && cached.Status == x402gate.StatusSuccess {
			s.rec.IncCounter("verify_cache_hit", labels)
			s.log.Debug("verification cache hit", map[string]any{"reference": cached.Reference})
			return cached
		}
	}

	resp, err := s.delegate(ctx, facilitator.VerifyRequest{
		PaymentHeader: proofHeader,
		ClientProof:   proof.Signature,
		Nonce:         proof.Nonce,
		Amount:        proof.Value,
	})
	if err != nil {
		s.rec.IncCounter("verify_failed", labels)
		var statusErr *facilitator.StatusError
		if errors.As(err, &statusErr) {
			s.log.Warn("facilitator rejected proof", map[string]any{"status": statusErr.StatusCode, "network": req.Network})
			return s.failed(statusErr.Error())
		}
		s.log.Error("facilitator unreachable", map[string]any{"error": err.Error()})
		return s.failed(fmt.Sprintf("%v: %v", x402gate.ErrVerificationFailed, err))
	}

	reference := resp.Reference
	if reference == "" {
		reference = fallbackReference(s.now())
	}

	result := x402gate.VerificationResult{
		Status:          x402gate.StatusSuccess,
		Amount:          proof.Value,
		Reference:       reference,
		TransactionHash: resp.TransactionHash,
		Timestamp:       s.now(),
	}

	if s.resultCache != nil {
		s.resultCache.Set(cacheKey, result)
	}

	s.rec.IncCounter("verify_success", labels)
	s.rec.ObserveLatency("verify", s.now().Sub(started), labels)
	s.log.Info("payment verified", map[string]any{
		"reference": result.Reference,
		"amount":    result.Amount,
		"network":   req.Network,
	})
	return result
}

// Close releases the verification cache's sweeper, if any.
func (s *Service) Close() {
	if s.resultCache != nil {
		s.resultCache.Stop()
	}
}

func (s *Service) delegate(ctx context.Context, req facilitator.VerifyRequest) (*facilitator.VerifyResponse, error) {
	resp, err := s.facilitator.Verify(ctx, req)
	if err != nil && s.fallback != nil && errors.Is(err, x402gate.ErrFacilitatorUnavailable) {
		s.log.Warn("primary facilitator unreachable, trying fallback", map[string]any{"error": err.Error()})
		return s.fallback.Verify(ctx, req)
	}
	return resp, err
}

func (s *Service) failed(reason string) x402gate.VerificationResult {
	return x402gate.VerificationResult{
		Status:    x402gate.StatusFailed,
		Error:     reason,
		Timestamp: s.now(),
	}
}

// fallbackReference builds a locally generated reference id of the form
// x402_<ms>_<rand>, used when the facilitator does not issue one.
func fallbackReference(now time.Time) string {
	return fmt.Sprintf("x402_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}
