package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ledgerbridge/crossbook/apperr"
	"github.com/ledgerbridge/crossbook/types"
)

// OrderResponse is the order_dict wire shape the original API returns
// alongside every register_order / cancel_order call.
type OrderResponse struct {
	OrderID    int64        `json:"orderId"`
	Account    string       `json:"account"`
	Price      string       `json:"price"`
	Quantity   string       `json:"quantity"`
	Side       types.Side   `json:"side"`
	BaseAsset  string       `json:"baseAsset"`
	QuoteAsset string       `json:"quoteAsset"`
	Trades     []types.Trade `json:"trades,omitempty"`
	IsValid    bool         `json:"isValid"`
	Timestamp  int64        `json:"timestamp"`
}

func orderResponse(o types.Order, trades []types.Trade) OrderResponse {
	return OrderResponse{
		OrderID:    o.OrderID,
		Account:    o.Account,
		Price:      o.Price.String(),
		Quantity:   o.Quantity.String(),
		Side:       o.Side,
		BaseAsset:  o.Base,
		QuoteAsset: o.Quote,
		Trades:     trades,
		IsValid:    true,
		Timestamp:  o.Timestamp,
	}
}

// RegisterResult is the full response register_order builds: the resulting
// order, the new best order still resting on the same side (if any), the
// pre-trade validation detail, and the aggregate settlement outcome.
type RegisterResult struct {
	Valid             bool
	Errors            []string
	Order             OrderResponse
	NextBest          *OrderResponse
	ValidationDetails ValidationDetails
	SettlementInfo    types.SettlementInfo
}

// ValidationDetails is the validation_details wire shape.
type ValidationDetails struct {
	Required  string `json:"required"`
	Available string `json:"available"`
	Token     string `json:"token"`
	Chain     string `json:"chain"`
}

// RegisterOrder validates, matches, and (subject to the signature gate)
// settles an incoming order, mirroring api_service.py's register_order.
func (e *Engine) RegisterOrder(ctx context.Context, order types.Order) (RegisterResult, error) {
	result, err := e.validator.Validate(ctx, order)
	if err != nil {
		return RegisterResult{}, err
	}
	details := ValidationDetails{
		Required:  result.Required.String(),
		Available: result.Available.String(),
		Token:     result.Token,
		Chain:     result.Chain,
	}
	if !result.Valid {
		return RegisterResult{
			Valid:             false,
			Errors:            []string{fmt.Sprintf("insufficient available balance: need %s %s on %s, have %s", result.Required, result.Token, result.Chain, result.Available)},
			ValidationDetails: details,
		}, nil
	}

	symbol := order.Base + "_" + order.Quote
	b := e.bookFor(symbol)

	now := nowNano()
	trades, orderID, err := b.ProcessOrder(order, now)
	if err != nil {
		return RegisterResult{}, err
	}

	placed := order
	placed.OrderID = orderID
	placed.Timestamp = now
	e.logActivity(types.ActivityOrderPlaced, symbol, placed)
	for _, t := range trades {
		e.logTrade(symbol, t)
	}

	settlementInfo := e.resolveSettlement(ctx, orderID, trades)

	out := RegisterResult{
		Valid:             true,
		Order:             orderResponse(placed, trades),
		ValidationDetails: details,
		SettlementInfo:    settlementInfo,
	}
	if best, ok := b.BestOrder(order.Side); ok {
		nb := orderResponse(best, nil)
		out.NextBest = &nb
	}
	return out, nil
}

// resolveSettlement applies the signature gate: settlement proceeds if
// any trade carries a client signature, or if RequireClientSignatures is
// false (engine-signed mode), a deliberate repurposing of the original's
// REQUIRE_CLIENT_SIGNATURES parameter, which was accepted but never
// consulted by the Python settle_trades_if_any.
func (e *Engine) resolveSettlement(ctx context.Context, orderID int64, trades []types.Trade) types.SettlementInfo {
	if len(trades) == 0 {
		return types.SettlementInfo{Settled: false, Reason: "no_trades"}
	}

	requireSig := e.cfg != nil && e.cfg.RequireClientSignatures
	if requireSig && !anySignaturePresent(trades) {
		e.pendingMu.Lock()
		e.pending[orderID] = append(e.pending[orderID], trades...)
		e.pendingMu.Unlock()
		return types.SettlementInfo{Settled: false, Reason: "awaiting_client_signatures"}
	}

	return e.settleAll(ctx, orderID, trades)
}

func anySignaturePresent(trades []types.Trade) bool {
	for _, t := range trades {
		if t.Party1.Signature != "" || t.Party2.Signature != "" {
			return true
		}
	}
	return false
}

// settleAll drives the coordinator over every trade of one order and
// aggregates the per-trade results into the settlement_info shape.
func (e *Engine) settleAll(ctx context.Context, orderID int64, trades []types.Trade) types.SettlementInfo {
	results := make([]types.TradeSettlementResult, 0, len(trades))
	successCount := 0
	for _, t := range trades {
		res := e.coordinator.Settle(ctx, orderID, t)
		tr := types.TradeSettlementResult{
			TradeID:  t.TradeID,
			OrderID:  orderID,
			Price:    t.Price.String(),
			Quantity: t.Quantity.String(),
			Success:  res.Success,
			TimedOut: res.TimedOut,
			Async:    res.Async,
			Reason:   res.Reason,
			SourceChain: types.LegInfo{
				Chain: res.SourceChain.Chain, Success: res.SourceChain.Success,
				Skipped: res.SourceChain.Skipped, Reason: res.SourceChain.Reason, TxHash: res.SourceChain.TxHash,
			},
			DestinationChain: types.LegInfo{
				Chain: res.DestinationChain.Chain, Success: res.DestinationChain.Success,
				Skipped: res.DestinationChain.Skipped, Reason: res.DestinationChain.Reason, TxHash: res.DestinationChain.TxHash,
			},
		}
		if res.Success || res.Async {
			successCount++
		}
		results = append(results, tr)
	}
	return types.SettlementInfo{
		Settled:               true,
		Results:               results,
		TotalTrades:           len(trades),
		SuccessfulSettlements: successCount,
	}
}

// AttachSignature attaches a client signature to every pending trade of
// orderID where account matches one of the trade's parties, then retries
// the signature gate, supplementing the original's attach_signature flag
// on register_order as its own call.
func (e *Engine) AttachSignature(ctx context.Context, orderID int64, account, signature string) (types.SettlementInfo, error) {
	e.pendingMu.Lock()
	trades, ok := e.pending[orderID]
	if !ok {
		e.pendingMu.Unlock()
		return types.SettlementInfo{}, apperr.New(apperr.KindValidationFailed, "no trades pending a signature for this order")
	}

	attached := false
	for i := range trades {
		if trades[i].Party1.Address == account {
			trades[i].Party1.Signature = signature
			attached = true
		}
		if trades[i].Party2.Address == account {
			trades[i].Party2.Signature = signature
			attached = true
		}
	}
	if !attached {
		e.pendingMu.Unlock()
		return types.SettlementInfo{}, apperr.New(apperr.KindValidationFailed, "account is not a party to any pending trade for this order")
	}
	delete(e.pending, orderID)
	e.pendingMu.Unlock()

	return e.settleAll(ctx, orderID, trades), nil
}

// CancelOrder looks up the resting order (so the caller can be told what it
// cancelled) before removing it, matching api_service.py's cancel_order
// ordering: lookup, then cancel.
func (e *Engine) CancelOrder(ctx context.Context, symbol string, side types.Side, orderID int64) (types.Order, error) {
	b := e.bookFor(symbol)
	order, ok := b.Order(side, orderID)
	if !ok {
		return types.Order{}, apperr.New(apperr.KindValidationFailed, "no such resting order")
	}
	if err := b.Cancel(side, orderID); err != nil {
		return types.Order{}, err
	}
	e.logActivity(types.ActivityOrderCancelled, symbol, order)
	return order, nil
}

func (e *Engine) logActivity(kind types.ActivityKind, symbol string, o types.Order) {
	if e.activityLog == nil {
		return
	}
	e.activityLog.Record(types.ActivityRecord{
		Kind: kind, Symbol: symbol, OrderID: o.OrderID, Side: o.Side,
		Price: o.Price.String(), Quantity: o.Quantity.String(), Timestamp: o.Timestamp,
	})
}

func (e *Engine) logTrade(symbol string, t types.Trade) {
	if e.activityLog == nil {
		return
	}
	e.activityLog.Record(types.ActivityRecord{
		Kind: types.ActivityTradeExecuted, Symbol: symbol,
		Price: t.Price.String(), Quantity: t.Quantity.String(), Timestamp: t.Timestamp,
	})
	log.Debug().Str("symbol", symbol).Str("price", t.Price.String()).Str("qty", t.Quantity.String()).Msg("trade executed")
}

// SettleTrades drives settlement for an explicit list of trades regardless
// of book state, mirroring the standalone settle_trades endpoint (used when
// a client already holds the order/trades payload from a prior
// register_order response and is only now attaching signatures out of
// band).
func (e *Engine) SettleTrades(ctx context.Context, orderID int64, trades []types.Trade) types.SettlementInfo {
	return e.resolveSettlement(ctx, orderID, trades)
}
