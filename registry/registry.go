// Package registry is a pure lookup of
// chain_key -> {rpc, chain_id, contract_address, tokens} plus a
// legacy flat symbol->address map consulted when a chain has no per-chain
// entry for a symbol, grounded on original_source/orderbook/app.py's
// SUPPORTED_NETWORKS dict and APIHelper.get_token_address's fallback.
package registry

import (
	"strings"
	"sync"

	"github.com/ledgerbridge/crossbook/types"
)

// Registry is safe for concurrent reads; it is populated once at startup
// from config and treated as read-only thereafter, with a mutex only to
// guard the rare runtime registration (e.g. a test fixture or a future
// admin endpoint).
type Registry struct {
	mu          sync.RWMutex
	chains      map[string]*types.ChainConfig
	legacyTokens map[string]string // symbol -> address, chain-agnostic fallback
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		chains:       make(map[string]*types.ChainConfig),
		legacyTokens: make(map[string]string),
	}
}

// RegisterChain adds or replaces a chain's configuration.
func (r *Registry) RegisterChain(cfg types.ChainConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.Tokens == nil {
		cfg.Tokens = make(map[string]string)
	}
	r.chains[strings.ToLower(cfg.Key)] = &cfg
}

// RegisterLegacyToken records a chain-agnostic symbol->address fallback,
// consulted only when the chain-specific lookup misses.
func (r *Registry) RegisterLegacyToken(symbol, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.legacyTokens[strings.ToUpper(symbol)] = address
}

// Chain returns the configuration for chainKey, or ok=false if unknown.
func (r *Registry) Chain(chainKey string) (types.ChainConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.chains[strings.ToLower(chainKey)]
	if !ok {
		return types.ChainConfig{}, false
	}
	return *cfg, true
}

// TokenAddress resolves (symbol, chainKey) to a token contract address.
// It first checks the chain's own token map, then falls back to the legacy
// flat map so a symbol configured only there still resolves.
func (r *Registry) TokenAddress(symbol, chainKey string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.chains[strings.ToLower(chainKey)]; ok {
		if addr, ok := cfg.Tokens[strings.ToUpper(symbol)]; ok {
			return addr, true
		}
	}
	addr, ok := r.legacyTokens[strings.ToUpper(symbol)]
	return addr, ok
}

// All returns every registered chain, keyed exactly as registered, for the
// networks endpoint.
func (r *Registry) All() map[string]types.ChainConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]types.ChainConfig, len(r.chains))
	for k, v := range r.chains {
		out[k] = *v
	}
	return out
}
