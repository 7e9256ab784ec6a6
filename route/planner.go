// Package route plans and executes cross-chain payment routes: given a
// payer's source chain and a resource's required destination chain, it
// decides whether a direct same-chain payment suffices or a bridge route is
// needed, estimates cost, obtains live quotes from a routing provider, and
// drives the multi-step bridge saga.
package route

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/payrail/x402gate"
	"github.com/payrail/x402gate/logger"
)

// Bridge protocol tags.
const (
	BridgeLayerZero = "LayerZero"
	BridgeWormhole  = "Wormhole"
)

// Nominal estimates used when no live quote has been fetched. These are
// placeholders: Executor refuses to run a bridge on them unless explicitly
// allowed, and a production deployment should always quote first.
const (
	layerZeroTimeSeconds = 300
	wormholeTimeSeconds  = 900
	layerZeroNominalFee  = "0.5"
	wormholeNominalFee   = "1.0"
)

// Route describes how to move value from a source chain to a destination
// chain. A same-chain payment has no Route at all: Plan returns nil.
type Route struct {
	SourceChain      string `json:"sourceChain"`
	DestinationChain string `json:"destinationChain"`

	// EstimatedTime is the expected end-to-end latency in seconds.
	EstimatedTime int `json:"estimatedTime"`

	// EstimatedFee is the bridge fee as a decimal string in the quote currency.
	EstimatedFee string `json:"estimatedFee"`

	// BridgeProtocol tags the bridge family serving this route.
	BridgeProtocol string `json:"bridgeProtocol"`
}

// CostEstimate breaks down the total cost of a payment over a route.
type CostEstimate struct {
	TotalCost  string `json:"totalCost"`
	BridgeFee  string `json:"bridgeFee"`
	NetworkFee string `json:"networkFee"`
}

// Planner decides between direct and bridged payment paths. Routes are only
// constructible between chains both present in the registry.
type Planner struct {
	registry   *x402gate.Registry
	networkFee decimal.Decimal
	log        logger.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithNetworkFee overrides the flat per-payment network fee estimate.
func WithNetworkFee(fee decimal.Decimal) PlannerOption {
	return func(p *Planner) { p.networkFee = fee }
}

// WithPlannerLogger attaches a logger.
func WithPlannerLogger(l logger.Logger) PlannerOption {
	return func(p *Planner) { p.log = l }
}

// NewPlanner builds a planner over the given supported-network registry.
func NewPlanner(registry *x402gate.Registry, opts ...PlannerOption) *Planner {
	p := &Planner{
		registry:   registry,
		networkFee: decimal.RequireFromString("0.01"),
		log:        logger.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan returns the bridge route between two chains, or nil when the chains
// are the same and a direct payment applies. Both chains must be registered;
// otherwise ErrUnsupportedNetwork.
func (p *Planner) Plan(sourceChain, destChain string) (*Route, error) {
	src, err := p.registry.Lookup(sourceChain)
	if err != nil {
		return nil, err
	}
	dst, err := p.registry.Lookup(destChain)
	if err != nil {
		return nil, err
	}

	if sourceChain == destChain {
		return nil, nil
	}

	route := &Route{SourceChain: sourceChain, DestinationChain: destChain}
	if src.Type == x402gate.NetworkTypeEVM && dst.Type == x402gate.NetworkTypeEVM {
		route.BridgeProtocol = BridgeLayerZero
		route.EstimatedTime = layerZeroTimeSeconds
		route.EstimatedFee = layerZeroNominalFee
	} else {
		// Solana on either side goes over Wormhole: slower and pricier.
		route.BridgeProtocol = BridgeWormhole
		route.EstimatedTime = wormholeTimeSeconds
		route.EstimatedFee = wormholeNominalFee
	}

	p.log.Debug("planned route", map[string]any{
		"source": sourceChain, "destination": destChain, "bridge": route.BridgeProtocol,
	})
	return route, nil
}

// EstimateCost breaks down what a payment of amount costs over the planned
// route. A same-chain payment carries no bridge fee, only the flat network
// fee. All arithmetic is decimal; floating point never touches an amount.
func (p *Planner) EstimateCost(sourceChain, destChain, amount string) (CostEstimate, error) {
	amt, err := decimal.NewFromString(amount)
	if err != nil || amt.IsNegative() {
		return CostEstimate{}, fmt.Errorf("%w: %q", x402gate.ErrInvalidAmount, amount)
	}

	route, err := p.Plan(sourceChain, destChain)
	if err != nil {
		return CostEstimate{}, err
	}

	bridgeFee := decimal.Zero
	if route != nil {
		bridgeFee, err = decimal.NewFromString(route.EstimatedFee)
		if err != nil {
			return CostEstimate{}, fmt.Errorf("%w: bridge fee %q", x402gate.ErrInvalidAmount, route.EstimatedFee)
		}
	}

	return CostEstimate{
		TotalCost:  amt.Add(bridgeFee).Add(p.networkFee).String(),
		BridgeFee:  bridgeFee.String(),
		NetworkFee: p.networkFee.String(),
	}, nil
}
