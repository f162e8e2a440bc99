package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func limitOrder(side types.Side, price, qty string, account string, ts int64) types.Order {
	return types.Order{
		Account:  account,
		Side:     side,
		Type:     types.OrderTypeLimit,
		Price:    dec(price),
		Quantity: dec(qty),
		Base:     "BTC",
		Quote:    "USDT",
	}
}

// Scenario 1: single cross. ask@100 qty 5, then bid@100 qty 3: one trade
// qty 3, resting ask left with qty 2.
func TestSingleCross(t *testing.T) {
	b := New("BTC_USDT")

	_, askID, err := b.ProcessOrder(limitOrder(types.SideAsk, "100", "5", "maker", 1), 1)
	if err != nil {
		t.Fatalf("ask rest: %v", err)
	}
	if askID == types.NoRestingOrder {
		t.Fatalf("expected resting ask id")
	}

	trades, takerID, err := b.ProcessOrder(limitOrder(types.SideBid, "100", "3", "taker", 2), 2)
	if err != nil {
		t.Fatalf("bid process: %v", err)
	}
	if takerID != types.NoRestingOrder {
		t.Fatalf("taker should not rest, got id %d", takerID)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if !trades[0].Quantity.Equal(dec("3")) || !trades[0].Price.Equal(dec("100")) {
		t.Fatalf("unexpected trade %+v", trades[0])
	}

	bids, asks := b.Snapshot()
	if len(bids) != 0 {
		t.Fatalf("expected empty bid side, got %+v", bids)
	}
	if len(asks) != 1 || !asks[0].Quantity.Equal(dec("2")) {
		t.Fatalf("expected resting ask qty 2, got %+v", asks)
	}
}

// Scenario 2: FIFO at same price. ask@100 qty2 (t1), ask@100 qty2 (t2),
// bid@100 qty3: first ask fills fully, second fills partially to qty 1.
func TestFIFOAtSamePrice(t *testing.T) {
	b := New("BTC_USDT")

	if _, _, err := b.ProcessOrder(limitOrder(types.SideAsk, "100", "2", "m1", 1), 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.ProcessOrder(limitOrder(types.SideAsk, "100", "2", "m2", 2), 2); err != nil {
		t.Fatal(err)
	}

	trades, _, err := b.ProcessOrder(limitOrder(types.SideBid, "100", "3", "taker", 3), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d: %+v", len(trades), trades)
	}
	if trades[0].Party1.Address != "m1" || !trades[0].Quantity.Equal(dec("2")) {
		t.Fatalf("trade1 should fully fill m1, got %+v", trades[0])
	}
	if trades[1].Party1.Address != "m2" || !trades[1].Quantity.Equal(dec("1")) {
		t.Fatalf("trade2 should partially fill m2 by 1, got %+v", trades[1])
	}

	_, asks := b.Snapshot()
	if len(asks) != 1 || !asks[0].Quantity.Equal(dec("1")) {
		t.Fatalf("expected m2 resting with qty 1, got %+v", asks)
	}
}

// Scenario 3: price improvement. ask@100 qty5, ask@101 qty5, bid@101 qty7:
// trade@100 qty5, trade@101 qty2; resting ask@101 qty3.
func TestPriceImprovement(t *testing.T) {
	b := New("BTC_USDT")

	if _, _, err := b.ProcessOrder(limitOrder(types.SideAsk, "100", "5", "m1", 1), 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.ProcessOrder(limitOrder(types.SideAsk, "101", "5", "m2", 2), 2); err != nil {
		t.Fatal(err)
	}

	trades, _, err := b.ProcessOrder(limitOrder(types.SideBid, "101", "7", "taker", 3), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if !trades[0].Price.Equal(dec("100")) || !trades[0].Quantity.Equal(dec("5")) {
		t.Fatalf("trade1 mismatch: %+v", trades[0])
	}
	if !trades[1].Price.Equal(dec("101")) || !trades[1].Quantity.Equal(dec("2")) {
		t.Fatalf("trade2 mismatch: %+v", trades[1])
	}

	_, asks := b.Snapshot()
	if len(asks) != 1 || !asks[0].Price.Equal(dec("101")) || !asks[0].Quantity.Equal(dec("3")) {
		t.Fatalf("expected resting ask@101 qty3, got %+v", asks)
	}
}

// Market order against an empty opposite side produces zero trades and
// never rests, by convention.
func TestMarketOrderAgainstEmptyBookDoesNotRest(t *testing.T) {
	b := New("BTC_USDT")
	order := limitOrder(types.SideBid, "0", "5", "taker", 1)
	order.Type = types.OrderTypeMarket

	trades, id, err := b.ProcessOrder(order, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %+v", trades)
	}
	if id != types.NoRestingOrder {
		t.Fatalf("market order must never rest, got id %d", id)
	}
}

// Placing an order then cancelling it leaves the book exactly as it was.
func TestCancelRoundTrip(t *testing.T) {
	b := New("BTC_USDT")
	bidsBefore, asksBefore := b.Snapshot()

	_, id, err := b.ProcessOrder(limitOrder(types.SideAsk, "100", "5", "m1", 1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Cancel(types.SideAsk, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	bidsAfter, asksAfter := b.Snapshot()
	if len(bidsBefore) != len(bidsAfter) || len(asksBefore) != len(asksAfter) {
		t.Fatalf("book not restored to prior state: bids %v/%v asks %v/%v", bidsBefore, bidsAfter, asksBefore, asksAfter)
	}
}

// Cancelling an unknown or already-cancelled id is an error, not a no-op.
func TestCancelUnknownOrderIsError(t *testing.T) {
	b := New("BTC_USDT")
	if err := b.Cancel(types.SideBid, 12345); err == nil {
		t.Fatal("expected error cancelling unknown order id")
	}

	_, id, err := b.ProcessOrder(limitOrder(types.SideAsk, "100", "5", "m1", 1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Cancel(types.SideAsk, id); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := b.Cancel(types.SideAsk, id); err == nil {
		t.Fatal("expected error on double-cancel")
	}
}

// Quantity equal to the best ask's remaining consumes that level entirely
// and removes it from the book.
func TestExactQuantityRemovesLevel(t *testing.T) {
	b := New("BTC_USDT")
	if _, _, err := b.ProcessOrder(limitOrder(types.SideAsk, "100", "5", "m1", 1), 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.ProcessOrder(limitOrder(types.SideBid, "100", "5", "taker", 2), 2); err != nil {
		t.Fatal(err)
	}
	_, asks := b.Snapshot()
	if len(asks) != 0 {
		t.Fatalf("expected ask level fully removed, got %+v", asks)
	}
}

// No self-trade prevention is enforced (Open Question #4): an account's
// bid is allowed to cross its own resting ask. This test pins today's
// documented behavior so a future change shows as a deliberate diff.
func TestSelfTradeIsNotPrevented(t *testing.T) {
	b := New("BTC_USDT")
	if _, _, err := b.ProcessOrder(limitOrder(types.SideAsk, "100", "5", "same-account", 1), 1); err != nil {
		t.Fatal(err)
	}
	trades, _, err := b.ProcessOrder(limitOrder(types.SideBid, "100", "5", "same-account", 2), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected self-trade to execute under current policy, got %d trades", len(trades))
	}
}

func TestZeroOrNegativeQuantityRejected(t *testing.T) {
	b := New("BTC_USDT")
	_, _, err := b.ProcessOrder(limitOrder(types.SideBid, "100", "0", "taker", 1), 1)
	if err == nil {
		t.Fatal("expected error for zero quantity order")
	}
}
