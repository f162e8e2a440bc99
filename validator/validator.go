// Package validator resolves which chain and token an order's submitter
// is obligated on, fetches their escrow balance there, and fails closed
// if it cannot be read. Grounded on
// original_source/orderbook/helper/api_helper.py's
// validate_order_prerequisites, which this package follows almost
// one-to-one.
package validator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/apperr"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/registry"
	"github.com/ledgerbridge/crossbook/types"
)

// EscrowReader is the read-through balance lookup the validator needs.
// Satisfied by *escrow.View; declared here (rather than depending on the
// escrow package's concrete type) so tests can substitute a fake without
// touching a real chain, the same import-cycle-avoidance idiom used for
// RiskValidator/TradeNotifier in core/engine.go.
type EscrowReader interface {
	Balance(ctx context.Context, user, tokenSymbol, chainKey string, decimals uint8, attempts int) (types.EscrowBalance, error)
}

// ChainClients resolves a chain key to its RPC client, mirroring
// escrow.ChainClients so the validator does not need to import escrow.
type ChainClients interface {
	Client(chainKey string) (*chain.Client, bool)
}

// DefaultDecimalFallback mirrors original_source's
// default_decimals_map = {"USDT": 6, "HBAR": 18} plus an 18-decimal
// default for everything else.
var DefaultDecimalFallback = map[string]uint8{
	"USDT": 6,
	"HBAR": 18,
}

const defaultDecimals uint8 = 18

const (
	decimalsRetryAttempts = 3
	escrowRetryAttempts   = 4
	decimalsBackoffBase   = 500 * time.Millisecond
)

// Result is the outcome of validating one order.
type Result struct {
	Valid     bool
	Required  decimal.Decimal
	Available decimal.Decimal
	Token     string
	Chain     string
}

// Validator ties the registry, an escrow view, and a decimals source
// together to answer "can this account afford this order".
type Validator struct {
	registry *registry.Registry
	escrow   EscrowReader
	clients  ChainClients
	fallback map[string]uint8
}

// New builds a Validator. fallback, if nil, uses DefaultDecimalFallback.
func New(reg *registry.Registry, view EscrowReader, clients ChainClients, fallback map[string]uint8) *Validator {
	if fallback == nil {
		fallback = DefaultDecimalFallback
	}
	return &Validator{registry: reg, escrow: view, clients: clients, fallback: fallback}
}

// obligation resolves which chain and token symbol the submitter must
// have funds available on, and how much: an ask locks the base asset on
// its source chain, a bid locks price*quantity of the quote asset on its
// destination chain.
func obligation(order types.Order) (chainKey, tokenSymbol string, required decimal.Decimal) {
	if order.Side == types.SideAsk {
		return order.FromNetwork, order.Base, order.Quantity
	}
	return order.ToNetwork, order.Quote, order.Quantity.Mul(order.Price)
}

// resolveDecimals fetches token decimals from the chain, retrying up to 3
// times with 0.5*(n+1)s backoff; on exhaustion it falls back to the
// per-symbol table, then the global 18-decimal default.
func (v *Validator) resolveDecimals(ctx context.Context, chainKey, tokenSymbol string) uint8 {
	chainClient, ok := v.clients.Client(chainKey)
	if !ok {
		return v.fallbackDecimals(tokenSymbol)
	}
	tokenAddr, ok := v.registry.TokenAddress(tokenSymbol, chainKey)
	if !ok {
		return v.fallbackDecimals(tokenSymbol)
	}

	var decimals uint8
	err := chain.Retry(ctx, decimalsRetryAttempts, decimalsBackoffBase, func() error {
		var callErr error
		decimals, callErr = chainClient.GetTokenDecimals(ctx, common.HexToAddress(tokenAddr))
		return callErr
	})
	if err != nil {
		return v.fallbackDecimals(tokenSymbol)
	}
	return decimals
}

func (v *Validator) fallbackDecimals(tokenSymbol string) uint8 {
	if d, ok := v.fallback[tokenSymbol]; ok {
		return d
	}
	return defaultDecimals
}

// Validate resolves the order's obligated chain/token, fetches the
// submitter's escrow there, and reports whether Available >= Required.
// Fails closed: an order whose escrow cannot be read at all after retries
// is rejected with apperr.KindValidationFailed rather than silently
// treated as having zero or unlimited funds.
func (v *Validator) Validate(ctx context.Context, order types.Order) (Result, error) {
	chainKey, tokenSymbol, required := obligation(order)

	if _, ok := v.registry.Chain(chainKey); !ok {
		return Result{}, apperr.New(apperr.KindValidationFailed, "unknown chain "+chainKey)
	}
	if _, ok := v.registry.TokenAddress(tokenSymbol, chainKey); !ok {
		return Result{}, apperr.New(apperr.KindValidationFailed, "unknown token "+tokenSymbol+" on "+chainKey)
	}

	decimals := v.resolveDecimals(ctx, chainKey, tokenSymbol)

	balance, err := v.escrow.Balance(ctx, order.Account, tokenSymbol, chainKey, decimals, escrowRetryAttempts)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindValidationFailed, "escrow unreadable, failing closed", err)
	}

	return Result{
		Valid:     balance.Available.GreaterThanOrEqual(required),
		Required:  required,
		Available: balance.Available,
		Token:     tokenSymbol,
		Chain:     chainKey,
	}, nil
}
