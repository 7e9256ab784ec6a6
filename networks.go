// Package x402gate implements the protocol core of an x402 micropayment
// gateway: the wire types, supported-network registry, and atomic-unit
// arithmetic shared by the header codec, payment verifier, resource gate,
// cross-chain route planner, endpoint prober, and proxy forwarder packages.
package x402gate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// NetworkType classifies the virtual machine family of a chain.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
	// NetworkTypeSVM represents Solana Virtual Machine chains.
	NetworkTypeSVM
)

// NativeAssetSentinel is the conventional address representing a chain's
// native asset rather than a token contract. Payments in the native asset
// skip the ERC-20 approval step during cross-chain execution.
const NativeAssetSentinel = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// NetworkConfig describes one supported chain.
type NetworkConfig struct {
	// ID is the x402 protocol network identifier (e.g., "base", "solana").
	ID string

	// Type is the chain's VM family, which decides address format rules and
	// which bridge protocol a cross-chain route uses.
	Type NetworkType

	// USDCAddress is the official Circle USDC contract or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC on this chain.
	Decimals int
}

// Registry is the supported-network table. A route is only constructible
// between two chains both present in a registry; requirements referencing an
// unregistered network fail validation. The zero value is unusable; use
// NewRegistry or DefaultRegistry.
type Registry struct {
	networks map[string]NetworkConfig
}

// NewRegistry builds a registry from the given chains.
func NewRegistry(configs ...NetworkConfig) *Registry {
	r := &Registry{networks: make(map[string]NetworkConfig, len(configs))}
	for _, c := range configs {
		r.networks[c.ID] = c
	}
	return r
}

// Default chain configurations. USDC addresses verified against Circle's
// published deployments.
var (
	BaseMainnet      = NetworkConfig{ID: "base", Type: NetworkTypeEVM, USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6}
	BaseSepolia      = NetworkConfig{ID: "base-sepolia", Type: NetworkTypeEVM, USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6}
	PolygonMainnet   = NetworkConfig{ID: "polygon", Type: NetworkTypeEVM, USDCAddress: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6}
	PolygonAmoy      = NetworkConfig{ID: "polygon-amoy", Type: NetworkTypeEVM, USDCAddress: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", Decimals: 6}
	AvalancheMainnet = NetworkConfig{ID: "avalanche", Type: NetworkTypeEVM, USDCAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6}
	AvalancheFuji    = NetworkConfig{ID: "avalanche-fuji", Type: NetworkTypeEVM, USDCAddress: "0x5425890298aed601595a70AB815c96711a31Bc65", Decimals: 6}
	SolanaMainnet    = NetworkConfig{ID: "solana", Type: NetworkTypeSVM, USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6}
	SolanaDevnet     = NetworkConfig{ID: "solana-devnet", Type: NetworkTypeSVM, USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Decimals: 6}
)

// DefaultRegistry returns a registry preloaded with every chain this module
// ships configuration for.
func DefaultRegistry() *Registry {
	return NewRegistry(
		BaseMainnet, BaseSepolia,
		PolygonMainnet, PolygonAmoy,
		AvalancheMainnet, AvalancheFuji,
		SolanaMainnet, SolanaDevnet,
	)
}

// Lookup returns the configuration for a network identifier.
// Returns ErrUnsupportedNetwork for identifiers not in the registry.
func (r *Registry) Lookup(networkID string) (NetworkConfig, error) {
	if networkID == "" {
		return NetworkConfig{}, fmt.Errorf("%w: empty network id", ErrUnsupportedNetwork)
	}
	cfg, ok := r.networks[networkID]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
	}
	return cfg, nil
}

// Supports reports whether a network identifier is registered.
func (r *Registry) Supports(networkID string) bool {
	_, ok := r.networks[networkID]
	return ok
}

// IDs returns the registered network identifiers in unspecified order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.networks))
	for id := range r.networks {
		ids = append(ids, id)
	}
	return ids
}

// ValidateAddress checks that an address matches the format of the given
// network family: 0x-prefixed hex for EVM chains, base58 public keys for SVM
// chains.
func ValidateAddress(netType NetworkType, address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch netType {
	case NetworkTypeEVM:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address %q: expected 0x-prefixed hex (42 chars)", address)
		}
		return nil

	case NetworkTypeSVM:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid Solana address %q: %v", address, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: cannot validate address for unknown network type", ErrUnsupportedNetwork)
	}
}
