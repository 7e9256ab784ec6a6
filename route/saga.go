package route

import (
	"context"
	"fmt"
	"time"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/logger"
	"github.com/payrail/x402gate/metrics"
)

// Phase names the ordered steps of a cross-chain payment. Approval is a
// local pre-step and never appears in provider status; the remaining four
// advance strictly in order.
type Phase string

const (
	PhaseApproval      Phase = "approval"
	PhaseSourcePayment Phase = "sourcePayment"
	PhaseVerify        Phase = "verify"
	PhaseRelay         Phase = "relay"
	PhaseExecution     Phase = "execution"
)

// phaseOrder is the canonical progression reported by the provider.
var phaseOrder = []Phase{PhaseSourcePayment, PhaseVerify, PhaseRelay, PhaseExecution}

// PhaseState is the provider-reported state of one phase.
type PhaseState string

const (
	PhasePending   PhaseState = "pending"
	PhaseConfirmed PhaseState = "confirmed"
	PhaseFailed    PhaseState = "failed"
)

// PhaseError attributes a payment failure to the phase where it occurred.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("payment failed in phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// ChainClient performs the wallet-side operations of a payment: token
// approvals, direct transfers, and signing swap submissions.
type ChainClient interface {
	// EnsureApproval grants the spender an allowance of at least amount
	// for the token, returning the approval tx hash or "" when the
	// existing allowance already suffices.
	EnsureApproval(ctx context.Context, chainID, token, spender, amount string) (string, error)

	// Transfer moves amount of token to recipient on one chain and
	// returns the tx hash.
	Transfer(ctx context.Context, chainID, token, recipient, amount string) (string, error)

	// Address is the wallet's address on the given chain.
	Address(chainID string) string

	// Sign produces the signature the routing provider requires to
	// execute a quoted swap.
	Sign(ctx context.Context, quote *Quote) (string, error)
}

// PaymentRequest describes one payment to execute.
type PaymentRequest struct {
	// SourceChain is the chain the payment starts on. Required for direct
	// payments; for bridged payments Route.SourceChain takes precedence.
	SourceChain string

	Route     *Route // nil means same-chain direct transfer
	Token     string
	Recipient string
	Amount    string
	Spender   string // bridge contract requiring approval; ignored same-chain
	Quote     *Quote // required for bridged payments unless nominal estimates allowed
}

// PaymentResult reports a completed payment.
type PaymentResult struct {
	SourceTx      string
	DestinationTx string
	SwapID        string
}

// Executor drives a payment saga to completion. Bridged payments advance
// only on provider status responses, never on elapsed time.
type Executor struct {
	provider *Provider
	wallet   ChainClient

	pollInterval time.Duration
	pollTimeout  time.Duration

	// AllowNominalEstimates permits bridged execution without a fresh
	// quote, submitting at planner-nominal pricing. Off by default.
	AllowNominalEstimates bool

	now func() time.Time
	log logger.Logger
	rec metrics.Recorder
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPollInterval sets the status polling cadence.
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.pollInterval = d }
}

// WithPollTimeout bounds how long a swap may stay in flight.
func WithPollTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.pollTimeout = d }
}

// WithNominalEstimates permits quote-less bridged execution.
func WithNominalEstimates() ExecutorOption {
	return func(e *Executor) { e.AllowNominalEstimates = true }
}

// WithExecutorLogger attaches a logger.
func WithExecutorLogger(l logger.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// WithExecutorRecorder attaches a metrics recorder.
func WithExecutorRecorder(r metrics.Recorder) ExecutorOption {
	return func(e *Executor) { e.rec = r }
}

// WithExecutorClock overrides the time source.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates a payment saga executor.
func NewExecutor(provider *Provider, wallet ChainClient, opts ...ExecutorOption) *Executor {
	e := &Executor{
		provider:     provider,
		wallet:       wallet,
		pollInterval: 5 * time.Second,
		pollTimeout:  30 * time.Minute,
		now:          time.Now,
		log:          logger.Noop{},
		rec:          metrics.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one payment to completion. Same-chain payments are a single
// direct transfer; bridged payments consume a quote, approve spend when the
// token is not the chain's native asset, submit the swap, and then poll the
// provider until execution confirms or a phase fails.
func (e *Executor) Execute(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if req.Route == nil {
		return e.executeDirect(ctx, req)
	}
	return e.executeBridged(ctx, req)
}

func (e *Executor) executeDirect(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if req.SourceChain == "" {
		return nil, fmt.Errorf("direct payment requires a source chain")
	}
	labels := map[string]string{"type": "direct", "network": req.SourceChain}

	tx, err := e.wallet.Transfer(ctx, req.SourceChain, req.Token, req.Recipient, req.Amount)
	if err != nil {
		e.rec.IncCounter("payment_failed", labels)
		return nil, &PhaseError{Phase: PhaseSourcePayment, Err: err}
	}
	e.rec.IncCounter("payment_completed", labels)
	return &PaymentResult{SourceTx: tx, DestinationTx: tx}, nil
}

func (e *Executor) executeBridged(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	src := req.Route.SourceChain
	labels := map[string]string{"type": "bridged", "network": src}

	quote := req.Quote
	if quote == nil {
		if !e.AllowNominalEstimates {
			return nil, fmt.Errorf("%w: refusing to bridge on nominal estimates", x402gate.ErrQuoteRequired)
		}
		e.log.Warn("executing bridged payment at nominal estimates", map[string]any{
			"source": src, "destination": req.Route.DestinationChain,
		})
	} else if err := quote.Consume(e.now()); err != nil {
		return nil, err
	}

	if req.Token != x402gate.NativeAssetSentinel && req.Spender != "" {
		if _, err := e.wallet.EnsureApproval(ctx, src, req.Token, req.Spender, req.Amount); err != nil {
			e.rec.IncCounter("payment_failed", labels)
			return nil, &PhaseError{Phase: PhaseApproval, Err: err}
		}
	}

	var signature string
	if quote != nil {
		sig, err := e.wallet.Sign(ctx, quote)
		if err != nil {
			e.rec.IncCounter("payment_failed", labels)
			return nil, &PhaseError{Phase: PhaseSourcePayment, Err: err}
		}
		signature = sig
	}

	quoteID := ""
	if quote != nil {
		quoteID = quote.ID
	}
	swapID, err := e.provider.Submit(ctx, SubmitRequest{
		QuoteID:     quoteID,
		FromAddress: e.wallet.Address(src),
		Recipient:   req.Recipient,
		Signature:   signature,
	})
	if err != nil {
		e.rec.IncCounter("payment_failed", labels)
		return nil, &PhaseError{Phase: PhaseSourcePayment, Err: err}
	}

	e.log.Info("swap submitted", map[string]any{"swapId": swapID, "source": src})

	result, err := e.await(ctx, swapID)
	if err != nil {
		e.rec.IncCounter("payment_failed", labels)
		return nil, err
	}
	e.rec.IncCounter("payment_completed", labels)
	return result, nil
}

// await polls the provider until every phase confirms. A phase only counts
// as reached when all of its predecessors are confirmed; a failed phase
// aborts with that phase's attribution.
func (e *Executor) await(ctx context.Context, swapID string) (*PaymentResult, error) {
	deadline := e.now().Add(e.pollTimeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		status, err := e.provider.Status(ctx, swapID)
		if err != nil {
			e.log.Warn("status poll failed", map[string]any{"swapId": swapID, "error": err.Error()})
		} else {
			done, perr := e.advance(status)
			if perr != nil {
				return nil, perr
			}
			if done {
				return &PaymentResult{
					SwapID:        swapID,
					SourceTx:      status.SourceTx,
					DestinationTx: status.DestinationTx,
				}, nil
			}
		}

		if e.now().After(deadline) {
			return nil, &PhaseError{Phase: e.pendingPhase(swapID), Err: x402gate.ErrTimeout}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// advance inspects a status snapshot. It returns done once every phase is
// confirmed, and a PhaseError for the earliest failed phase. A confirmed
// phase whose predecessor is not confirmed is treated as not yet reached.
func (e *Executor) advance(status *StatusResponse) (bool, error) {
	for i, phase := range phaseOrder {
		state := status.Phases[phase]
		switch state {
		case PhaseFailed:
			return false, &PhaseError{Phase: phase, Err: fmt.Errorf("provider reported failure")}
		case PhaseConfirmed:
			if i > 0 && status.Phases[phaseOrder[i-1]] != PhaseConfirmed {
				return false, nil
			}
		default:
			return false, nil
		}
	}
	return true, nil
}

// pendingPhase reports the first unconfirmed phase from the last known
// status, for timeout attribution. Falls back to sourcePayment when no
// status was ever received.
func (e *Executor) pendingPhase(swapID string) Phase {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := e.provider.Status(ctx, swapID)
	if err != nil {
		return PhaseSourcePayment
	}
	for _, phase := range phaseOrder {
		if status.Phases[phase] != PhaseConfirmed {
			return phase
		}
	}
	return PhaseExecution
}
