package engine

import (
	"context"
	"time"

	"github.com/ledgerbridge/crossbook/book"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/types"
)

// Orderbook returns a point-in-time snapshot of both sides of symbol's
// book, auto-vivifying an empty book if symbol has never traded.
func (e *Engine) Orderbook(symbol string) (bids, asks []book.LevelSnapshot) {
	return e.bookFor(symbol).Snapshot()
}

// OrderHistory returns up to limit recent order/trade activity records,
// optionally filtered to one symbol. It re-opens and scans the activity
// log's JSONL file on every call rather than serving the in-memory ring,
// matching app.py's order_history endpoint, which opens ACTIVITY_LOG_PATH
// fresh per request. A process with no activity log file configured has no
// history to serve.
func (e *Engine) OrderHistory(symbol string, limit int) ([]types.ActivityRecord, error) {
	if e.activityLog == nil {
		return nil, nil
	}
	return e.activityLog.ReadFile(symbol, limit, "")
}

// Trades returns up to limit recently executed trades for symbol, read from
// the same on-disk activity log OrderHistory reads rather than a per-book
// in-memory trade tape. The original's per-OrderBook tape has no surviving
// counterpart once activity is centralized in one log, and trade_executed
// records already carry everything the trades endpoint needs (symbol,
// price, quantity, time).
func (e *Engine) Trades(symbol string, limit int) ([]types.ActivityRecord, error) {
	if e.activityLog == nil {
		return nil, nil
	}
	return e.activityLog.ReadFile(symbol, limit, types.ActivityTradeExecuted)
}

// Health is the settlement_health endpoint's response shape.
type Health struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	WebConnected    bool   `json:"web3_connected"`
	ContractAddress string `json:"contract_address"`
}

// SettlementHealth probes one configured chain client's connectivity by
// reading the settlement contract's owner, mirroring the original's
// web3.isConnected() check with the closest equivalent this client exposes:
// an actual round-trip read rather than a transport-level ping.
func (e *Engine) SettlementHealth(ctx context.Context) Health {
	probeKey, client := e.anyClient()
	if client == nil {
		return Health{Status: "unhealthy", Message: "no chain client configured", ContractAddress: e.settlementAddress}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.GetContractOwner(ctx); err != nil {
		return Health{
			Status:          "degraded",
			Message:         "chain " + probeKey + " unreachable: " + err.Error(),
			ContractAddress: e.settlementAddress,
		}
	}
	return Health{Status: "healthy", Message: "connected", WebConnected: true, ContractAddress: e.settlementAddress}
}

func (e *Engine) anyClient() (string, *chain.Client) {
	if c, ok := e.clients["hedera"]; ok {
		return "hedera", c
	}
	for key, c := range e.clients {
		return key, c
	}
	return "", nil
}
