// Package gate implements the per-request 402 decision logic: given a
// protected resource and an inbound request, either issue a Payment Required
// challenge, forward the request after successful verification, or reject it.
//
// The gate is stateless: no session state carries between requests and every
// call re-evaluates from scratch, so the same headers against the same
// requirement always yield the same decision class. Re-submitting a valid,
// unexpired proof is accepted again; replay prevention is the facilitator's
// responsibility (nonce uniqueness), since this core keeps no proof ledger.
package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/header"
	"github.com/payrail/x402gate/logger"
	"github.com/payrail/x402gate/metrics"
	"github.com/payrail/x402gate/verify"
)

// DecisionKind classifies the gate's outcome for one request.
type DecisionKind int

const (
	// DecisionChallenge: no payment header; answer 402 with a fresh challenge.
	DecisionChallenge DecisionKind = iota
	// DecisionForward: payment verified; the request proceeds upstream.
	DecisionForward
	// DecisionReject: payment present but not acceptable; answer 402.
	DecisionReject
)

// Decision is the gate's resolution of a single request.
type Decision struct {
	Kind DecisionKind

	// Status is the HTTP status to respond with for Challenge and Reject.
	Status int

	// ChallengeHeader is the X-Payment challenge value (Challenge only).
	ChallengeHeader string

	// Receipt describes the verified payment (Forward only); it is attached
	// to the eventual response as the X-Payment-Response header.
	Receipt *x402gate.Receipt

	// Result is the verification outcome (Forward and Reject).
	Result x402gate.VerificationResult

	// Reason is the client-facing rejection reason (Reject only).
	Reason string
}

type contextKey string

// PaymentContextKey is the request-context key under which the middleware
// stores the VerificationResult for downstream handlers.
const PaymentContextKey = contextKey("x402gate_payment")

// Config configures a Gate.
type Config struct {
	// Requirement is the accepted payment method for the gated resource.
	Requirement x402gate.PaymentRequirement

	// Verifier checks inbound payment proofs.
	Verifier *verify.Service

	// Registry is the supported-network table; DefaultRegistry when nil.
	Registry *x402gate.Registry

	// ExemptPaths bypass payment gating entirely (e.g., "/health").
	ExemptPaths []string

	Logger   logger.Logger
	Recorder metrics.Recorder

	// Clock overrides the wall clock, for tests.
	Clock func() time.Time
}

// Gate is the 402 state machine for one protected resource.
type Gate struct {
	req    x402gate.PaymentRequirement
	price  string
	exempt map[string]struct{}

	verifier *verify.Service
	log      logger.Logger
	rec      metrics.Recorder
	now      func() time.Time
}

// New validates the requirement against the registry and builds a gate.
func New(cfg Config) (*Gate, error) {
	reg := cfg.Registry
	if reg == nil {
		reg = x402gate.DefaultRegistry()
	}
	if err := cfg.Requirement.Validate(reg); err != nil {
		return nil, err
	}

	price, err := x402gate.FormatAtomic(cfg.Requirement.MaxAmountRequired, x402gate.RequirementDecimals(cfg.Requirement))
	if err != nil {
		return nil, err
	}

	g := &Gate{
		req:      cfg.Requirement,
		price:    price,
		exempt:   make(map[string]struct{}, len(cfg.ExemptPaths)),
		verifier: cfg.Verifier,
		log:      cfg.Logger,
		rec:      cfg.Recorder,
		now:      cfg.Clock,
	}
	for _, p := range cfg.ExemptPaths {
		g.exempt[p] = struct{}{}
	}
	if g.log == nil {
		g.log = logger.Noop{}
	}
	if g.rec == nil {
		g.rec = metrics.Noop{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Exempt reports whether a path bypasses payment gating.
func (g *Gate) Exempt(path string) bool {
	_, ok := g.exempt[path]
	return ok
}

// Handle resolves one inbound request to a Decision. Payment-domain failures
// always resolve to 402, never 500: they are expected, client-correctable
// conditions.
func (g *Gate) Handle(r *http.Request) Decision {
	labels := map[string]string{"network": g.req.Network}

	paymentHeader := r.Header.Get(header.Payment)
	if paymentHeader == "" {
		g.rec.IncCounter("gate_challenge", labels)
		g.log.Info("no payment header, issuing challenge", map[string]any{"path": r.URL.Path})
		return Decision{
			Kind:            DecisionChallenge,
			Status:          http.StatusPaymentRequired,
			ChallengeHeader: header.EncodeChallengeAt(g.price, g.req.MaxAmountRequired, g.req.MaxTimeoutSeconds, g.now()),
		}
	}

	result := g.verifier.Verify(r.Context(), paymentHeader, g.req)
	if result.Status != x402gate.StatusSuccess {
		g.rec.IncCounter("gate_reject", labels)
		g.log.Warn("payment rejected", map[string]any{"path": r.URL.Path, "reason": result.Error})
		reason := result.Error
		if reason == "" {
			reason = "payment verification did not succeed"
		}
		return Decision{
			Kind:   DecisionReject,
			Status: http.StatusPaymentRequired,
			Result: result,
			Reason: reason,
		}
	}

	receipt := header.NewReceipt(x402gate.ReceiptStatusSuccess, result, g.now())
	g.rec.IncCounter("gate_forward", labels)
	return Decision{
		Kind:    DecisionForward,
		Receipt: &receipt,
		Result:  result,
	}
}

// Middleware wraps next with payment gating for net/http.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		decision := g.Handle(r)
		switch decision.Kind {
		case DecisionChallenge:
			g.WriteChallenge(w, r, decision)

		case DecisionReject:
			g.WriteRejection(w, decision)

		case DecisionForward:
			if encoded, err := header.EncodeReceipt(*decision.Receipt); err == nil {
				w.Header().Set(header.PaymentResponse, encoded)
			}
			ctx := context.WithValue(r.Context(), PaymentContextKey, decision.Result)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// WriteChallenge writes a 402 challenge: the X-Payment challenge header plus
// a JSON requirements body with the resource field pointing at the request.
func (g *Gate) WriteChallenge(w http.ResponseWriter, r *http.Request, decision Decision) {
	req := g.req
	if req.Resource == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		req.Resource = scheme + "://" + r.Host + r.RequestURI
	}
	if req.Description == "" {
		req.Description = "Payment required for " + r.URL.Path
	}

	w.Header().Set(header.Payment, decision.ChallengeHeader)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(decision.Status)
	_ = json.NewEncoder(w).Encode(x402gate.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       "Payment required for this resource",
		Accepts:     []x402gate.PaymentRequirement{req},
	})
}

// WriteRejection writes a 402 with a structured error body.
func (g *Gate) WriteRejection(w http.ResponseWriter, decision Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(decision.Status)
	_ = json.NewEncoder(w).Encode(struct {
		Error   string `json:"error"`
		Details string `json:"details,omitempty"`
	}{
		Error:   "payment verification failed",
		Details: decision.Reason,
	})
}

// PaymentFromContext returns the verification result the middleware stored
// for a forwarded request.
func PaymentFromContext(ctx context.Context) (x402gate.VerificationResult, bool) {
	result, ok := ctx.Value(PaymentContextKey).(x402gate.VerificationResult)
	return result, ok
}
