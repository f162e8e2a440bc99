// Package escrow is a read-through projection of on-chain escrow for
// (user, token, chain). It owns no state of its own: the truth lives
// on-chain, and it exists only to resolve a token symbol to an address
// via the registry, issue the chain read, and retry on transient
// failure. Grounded on
// original_source/orderbook/helper/api_helper.py's check_escrow_balance.
package escrow

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ledgerbridge/crossbook/apperr"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/registry"
	"github.com/ledgerbridge/crossbook/types"
)

// ChainClients resolves a chain key to the client that talks to it. It is
// satisfied by engine's client map and by test doubles.
type ChainClients interface {
	Client(chainKey string) (*chain.Client, bool)
}

// View is a read-through escrow balance reader.
type View struct {
	registry *registry.Registry
	clients  ChainClients
}

// New builds a View over reg (for symbol -> address resolution) and
// clients (for chain -> RPC client resolution).
func New(reg *registry.Registry, clients ChainClients) *View {
	return &View{registry: reg, clients: clients}
}

// Balance reads (total, available, locked) for (user, tokenSymbol,
// chainKey), retrying up to attempts times with a 0.5*(n+1)s backoff on
// transient RPC errors. Fails closed: any unresolved chain/token or
// exhausted retry returns an error rather than a zero balance.
func (v *View) Balance(ctx context.Context, user, tokenSymbol, chainKey string, decimals uint8, attempts int) (types.EscrowBalance, error) {
	chainClient, ok := v.clients.Client(chainKey)
	if !ok {
		return types.EscrowBalance{}, apperr.New(apperr.KindNetworkNotConfigured, "no chain client for "+chainKey)
	}

	tokenAddr, ok := v.registry.TokenAddress(tokenSymbol, chainKey)
	if !ok {
		return types.EscrowBalance{}, apperr.New(apperr.KindValidationFailed, "unknown token "+tokenSymbol+" on chain "+chainKey)
	}

	userAddr := common.HexToAddress(user)
	token := common.HexToAddress(tokenAddr)

	var result chain.EscrowBalance
	err := chain.Retry(ctx, attempts, 500*time.Millisecond, func() error {
		var callErr error
		result, callErr = chainClient.CheckEscrowBalance(ctx, userAddr, token, decimals)
		return callErr
	})
	if err != nil {
		return types.EscrowBalance{}, err
	}

	return types.EscrowBalance{
		User:      user,
		Token:     tokenSymbol,
		Chain:     chainKey,
		Total:     result.Total,
		Available: result.Available,
		Locked:    result.Locked,
	}, nil
}
