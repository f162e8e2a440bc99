package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/apperr"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/marketmaker"
	"github.com/ledgerbridge/crossbook/types"
)

// bookView and orderPlacer exist only because marketmaker.OrderBookView's
// BestBid/BestAsk take a symbol argument Engine's per-symbol book.Book
// doesn't carry, and marketmaker.OrderPlacer's CancelOrder returns a bare
// error while Engine's own CancelOrder (used by httpapi) also returns the
// cancelled order. It is the same two-shapes-for-one-name problem solved
// for ChainClients/ChainOps in engine.go, here solved with thin wrappers
// instead of a second interface on Engine itself.
type bookView struct{ e *Engine }

func (v bookView) BestBid(symbol string) (decimal.Decimal, bool) { return v.e.bookFor(symbol).BestBid() }
func (v bookView) BestAsk(symbol string) (decimal.Decimal, bool) { return v.e.bookFor(symbol).BestAsk() }

type orderPlacer struct{ e *Engine }

func (p orderPlacer) PlaceOrder(ctx context.Context, order types.Order) ([]types.Trade, int64, error) {
	return p.e.placeOrder(ctx, order)
}

func (p orderPlacer) CancelOrder(ctx context.Context, symbol string, side types.Side, orderID int64) error {
	_, err := p.e.CancelOrder(ctx, symbol, side, orderID)
	return err
}

// MarketMakerAdapters returns the three views a marketmaker.Driver needs
// over this Engine.
func (e *Engine) MarketMakerAdapters() (marketmaker.OrderBookView, marketmaker.OrderPlacer, marketmaker.EscrowTopUp) {
	return bookView{e}, orderPlacer{e}, e
}

// placeOrder places order directly against its book without the pre-trade
// validation register_order performs. The market maker quotes its own
// funds and tops up escrow itself via EnsureAvailable before calling this,
// so re-validating here would only re-read the balance it just confirmed.
func (e *Engine) placeOrder(ctx context.Context, order types.Order) ([]types.Trade, int64, error) {
	symbol := order.Base + "_" + order.Quote
	b := e.bookFor(symbol)

	now := nowNano()
	trades, orderID, err := b.ProcessOrder(order, now)
	if err != nil {
		return nil, 0, err
	}

	placed := order
	placed.OrderID = orderID
	placed.Timestamp = now
	e.logActivity(types.ActivityOrderPlaced, symbol, placed)
	for _, t := range trades {
		e.logTrade(symbol, t)
	}
	e.resolveSettlement(ctx, orderID, trades)
	return trades, orderID, nil
}

// EnsureAvailable reads the account's available escrow on (chainKey,
// tokenSymbol) and, if short of required, deposits the shortfall from the
// chain client's own signer. The market maker is expected to run under an
// account the engine itself controls, so "ensure available" means "top up
// my own escrow", not "fund a third party".
func (e *Engine) EnsureAvailable(ctx context.Context, account, tokenSymbol, chainKey string, required decimal.Decimal) (bool, error) {
	client, ok := e.clients.Client(chainKey)
	if !ok {
		return false, apperr.New(apperr.KindNetworkNotConfigured, "no chain client for "+chainKey)
	}
	tokenAddr, ok := e.registry.TokenAddress(tokenSymbol, chainKey)
	if !ok {
		return false, apperr.New(apperr.KindValidationFailed, "unknown token "+tokenSymbol+" on "+chainKey)
	}

	decimals := chain.DefaultDecimalFallback
	if d, err := client.GetTokenDecimals(ctx, common.HexToAddress(tokenAddr)); err == nil {
		decimals = d
	}

	balance, err := e.escrowView.Balance(ctx, account, tokenSymbol, chainKey, decimals, 2)
	if err != nil {
		return false, err
	}
	if balance.Available.GreaterThanOrEqual(required) {
		return true, nil
	}

	shortfall := required.Sub(balance.Available)
	raw := chain.ToRawAmount(shortfall, decimals)
	if _, err := client.DepositToEscrow(ctx, common.HexToAddress(tokenAddr), raw); err != nil {
		return false, err
	}
	return true, nil
}
