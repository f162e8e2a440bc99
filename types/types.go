// Package types holds the data shapes shared across the exchange's
// packages (book, validator, settlement, activity, httpapi). Keeping them
// in one leaf package avoids import cycles between the packages that
// produce them and the packages that consume them.
package types

import (
	"github.com/shopspring/decimal"
)

// Side is which side of the book an order rests on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// OrderType selects the matching predicate applied against the opposite
// side of the book.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// NoRestingOrder is the sentinel order_id returned when a taker order
// fully fills and never rests (order ids are otherwise assigned only on
// rest, starting at 1).
const NoRestingOrder int64 = 0

// Symbol is a base/quote asset pair. String() renders the canonical
// BASE_QUOTE form used as a book and registry key.
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) String() string {
	return s.Base + "_" + s.Quote
}

// Order is a single resting or in-flight order. Quantity decreases in
// place as it fills; an order with Quantity == 0 must not remain resting
// (invariant O1).
type Order struct {
	OrderID      int64
	Account      string
	Side         Side
	Type         OrderType
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Base         string
	Quote        string
	FromNetwork  string
	ToNetwork    string
	ReceiveWallet string
	Timestamp    int64 // nanoseconds, caller-supplied; never read from the wall clock inside the book
	Signature    string
}

// Remaining is an alias kept for readability at call sites that track a
// taker's unfilled amount across the match loop; it is simply Quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity
}

// TradeParty is one side of a Trade: either the maker (party1) or the
// taker (party2), carrying everything the settlement coordinator needs to
// drive that leg without re-consulting the book.
type TradeParty struct {
	Address       string
	Side          Side
	OrderID       int64
	Price         decimal.Decimal
	FromNetwork   string
	ToNetwork     string
	ReceiveWallet string
	Signature     string
}

// Trade is one fill produced by the matching engine. Price is always the
// maker's price; Quantity is min(taker_remaining, maker_remaining) at the
// moment of the fill.
type Trade struct {
	TradeID   string
	Timestamp int64
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Party1    TradeParty // maker
	Party2    TradeParty // taker
}

// EscrowBalance is the (total, available, locked) triple for one
// (user, token, chain). Invariant E1: Total == Available.Add(Locked).
type EscrowBalance struct {
	User      string
	Token     string
	Chain     string
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// ActivityKind enumerates the three record types the activity log holds.
type ActivityKind string

const (
	ActivityOrderPlaced    ActivityKind = "order_placed"
	ActivityOrderCancelled ActivityKind = "order_cancelled"
	ActivityTradeExecuted  ActivityKind = "trade_executed"
)

// ActivityRecord is one append-only audit line. Fields are optional per
// Kind: order_placed/cancelled populate OrderID/Side/Price/Quantity,
// trade_executed populates Price/Quantity and leaves OrderID zero.
type ActivityRecord struct {
	Kind      ActivityKind `json:"type"`
	Symbol    string       `json:"symbol"`
	OrderID   int64        `json:"orderId,omitempty"`
	Side      Side         `json:"side,omitempty"`
	Price     string       `json:"price,omitempty"`
	Quantity  string       `json:"quantity,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// ChainConfig is one entry of the Token Registry: everything needed to
// talk to a single chain's settlement contract.
type ChainConfig struct {
	Key             string
	RPCURL          string
	ChainID         int64
	ContractAddress string
	Tokens          map[string]string // symbol -> token contract address
}

// NetworkInfo is the wire shape returned by the networks endpoint.
type NetworkInfo struct {
	RPC             string            `json:"rpc"`
	ChainID         int64             `json:"chain_id"`
	ContractAddress string            `json:"contract_address"`
	Tokens          map[string]string `json:"tokens"`
}

// LegInfo is one chain leg's settlement outcome, as returned to clients.
type LegInfo struct {
	Chain   string `json:"chain"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
}

// TradeSettlementResult is one trade's settlement outcome within a
// register_order/settle_trades response.
type TradeSettlementResult struct {
	TradeID          string  `json:"trade_id"`
	OrderID          int64   `json:"order_id"`
	Price            string  `json:"price"`
	Quantity         string  `json:"quantity"`
	Success          bool    `json:"success"`
	TimedOut         bool    `json:"timed_out,omitempty"`
	Async            bool    `json:"async,omitempty"`
	Reason           string  `json:"reason,omitempty"`
	SourceChain      LegInfo `json:"source_chain"`
	DestinationChain LegInfo `json:"destination_chain"`
}

// SettlementInfo aggregates every trade produced by one order into the
// settlement_info shape the original API returns alongside the order.
type SettlementInfo struct {
	Settled               bool                     `json:"settled"`
	Reason                string                   `json:"reason,omitempty"`
	Results               []TradeSettlementResult  `json:"settlement_results,omitempty"`
	TotalTrades           int                      `json:"total_trades,omitempty"`
	SuccessfulSettlements int                      `json:"successful_settlements,omitempty"`
}
