package marketmaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeBook struct {
	bid, ask       decimal.Decimal
	hasBid, hasAsk bool
}

func (f fakeBook) BestBid(string) (decimal.Decimal, bool) { return f.bid, f.hasBid }
func (f fakeBook) BestAsk(string) (decimal.Decimal, bool) { return f.ask, f.hasAsk }

type fakePlacer struct {
	nextID  int64
	placed  []types.Order
	cancels []int64
}

func (p *fakePlacer) PlaceOrder(ctx context.Context, order types.Order) ([]types.Trade, int64, error) {
	p.nextID++
	p.placed = append(p.placed, order)
	return nil, p.nextID, nil
}

func (p *fakePlacer) CancelOrder(ctx context.Context, symbol string, side types.Side, orderID int64) error {
	p.cancels = append(p.cancels, orderID)
	return nil
}

type fakeEscrowTopUp struct {
	ok  bool
	err error
}

func (f fakeEscrowTopUp) EnsureAvailable(ctx context.Context, account, tokenSymbol, chainKey string, required decimal.Decimal) (bool, error) {
	return f.ok, f.err
}

func TestCalculateMarketPrices(t *testing.T) {
	bid, ask := calculateMarketPrices(dec("100"), dec("0.5"))
	if !bid.Equal(dec("99.75")) || !ask.Equal(dec("100.25")) {
		t.Fatalf("expected bid=99.75 ask=100.25, got bid=%s ask=%s", bid, ask)
	}
}

func TestReferencePriceUsesManualOverrideFirst(t *testing.T) {
	manual := dec("42")
	d := New(Config{BaseAsset: "BTC", QuoteAsset: "USDT", ManualPrice: &manual}, nil, fakeBook{}, nil, nil, nil)
	price, err := d.referencePrice(context.Background())
	if err != nil || !price.Equal(manual) {
		t.Fatalf("expected manual override 42, got %s err=%v", price, err)
	}
}

func TestReferencePriceFallsBackToLocalMid(t *testing.T) {
	book := fakeBook{bid: dec("99"), ask: dec("101"), hasBid: true, hasAsk: true}
	d := New(Config{BaseAsset: "BTC", QuoteAsset: "USDT"}, nil, book, nil, nil, nil)
	price, err := d.referencePrice(context.Background())
	if err != nil || !price.Equal(dec("100")) {
		t.Fatalf("expected local mid 100, got %s err=%v", price, err)
	}
}

func TestReferencePriceFallsBackToBestBidNudged(t *testing.T) {
	book := fakeBook{bid: dec("100"), hasBid: true}
	d := New(Config{BaseAsset: "BTC", QuoteAsset: "USDT"}, nil, book, nil, nil, nil)
	price, err := d.referencePrice(context.Background())
	if err != nil || !price.Equal(dec("100.1")) {
		t.Fatalf("expected best bid nudged to 100.1, got %s err=%v", price, err)
	}
}

func TestReferencePriceFailsWithNoSource(t *testing.T) {
	d := New(Config{BaseAsset: "BTC", QuoteAsset: "USDT"}, nil, fakeBook{}, nil, nil, nil)
	if _, err := d.referencePrice(context.Background()); err == nil {
		t.Fatalf("expected an error when no reference price source is available")
	}
}

func TestUpdateOrdersPlacesOnConfiguredSideOnly(t *testing.T) {
	manual := dec("100")
	placer := &fakePlacer{}
	d := New(Config{
		BaseAsset: "BTC", QuoteAsset: "USDT", Side: types.SideBid,
		Quantity: dec("1"), SpreadPercent: dec("1"), ManualPrice: &manual,
		ToNetwork: "polygon",
	}, nil, fakeBook{}, placer, fakeEscrowTopUp{ok: true}, nil)

	if err := d.updateOrders(context.Background()); err != nil {
		t.Fatalf("updateOrders: %v", err)
	}
	if len(placer.placed) != 1 || placer.placed[0].Side != types.SideBid {
		t.Fatalf("expected exactly one bid order placed, got %+v", placer.placed)
	}

	status := d.Status()
	if _, ok := status.CurrentOrders[types.SideBid]; !ok {
		t.Fatalf("expected current order tracked for bid side, got %+v", status.CurrentOrders)
	}
}

func TestUpdateOrdersCancelsPreviousBeforePlacing(t *testing.T) {
	manual := dec("100")
	placer := &fakePlacer{}
	d := New(Config{
		BaseAsset: "BTC", QuoteAsset: "USDT", Side: types.SideAsk,
		Quantity: dec("1"), SpreadPercent: dec("1"), ManualPrice: &manual,
		FromNetwork: "polygon",
	}, nil, fakeBook{}, placer, fakeEscrowTopUp{ok: true}, nil)

	if err := d.updateOrders(context.Background()); err != nil {
		t.Fatalf("first updateOrders: %v", err)
	}
	if err := d.updateOrders(context.Background()); err != nil {
		t.Fatalf("second updateOrders: %v", err)
	}
	if len(placer.cancels) != 1 {
		t.Fatalf("expected the first order to be cancelled before the second is placed, got %d cancels", len(placer.cancels))
	}
}

func TestPlaceAtFailsWhenEscrowInsufficient(t *testing.T) {
	manual := dec("100")
	placer := &fakePlacer{}
	d := New(Config{
		BaseAsset: "BTC", QuoteAsset: "USDT", Side: types.SideBid,
		Quantity: dec("1"), SpreadPercent: dec("0"), ManualPrice: &manual,
	}, nil, fakeBook{}, placer, fakeEscrowTopUp{ok: false}, nil)

	err := d.updateOrders(context.Background())
	if err == nil {
		t.Fatalf("expected failure when escrow top-up cannot secure enough balance")
	}
	if len(placer.placed) != 0 {
		t.Fatalf("expected no order placed after a failed escrow top-up, got %+v", placer.placed)
	}
}

func TestPlaceAtPropagatesEscrowError(t *testing.T) {
	manual := dec("100")
	d := New(Config{
		BaseAsset: "BTC", QuoteAsset: "USDT", Side: types.SideBid,
		Quantity: dec("1"), SpreadPercent: dec("0"), ManualPrice: &manual,
	}, nil, fakeBook{}, &fakePlacer{}, fakeEscrowTopUp{err: errors.New("rpc down")}, nil)

	if err := d.updateOrders(context.Background()); err == nil {
		t.Fatalf("expected the escrow error to propagate")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	manual := dec("100")
	placer := &fakePlacer{}
	d := New(Config{
		BaseAsset: "BTC", QuoteAsset: "USDT", Side: types.SideBid,
		Quantity: dec("1"), SpreadPercent: dec("1"), ManualPrice: &manual,
		PollInterval: 10 * time.Millisecond,
	}, nil, fakeBook{}, placer, fakeEscrowTopUp{ok: true}, nil)

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(); err == nil {
		t.Fatalf("expected starting an already-running driver to error")
	}

	time.Sleep(30 * time.Millisecond)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if d.Status().State != StateIdle {
		t.Fatalf("expected idle state after Stop, got %s", d.Status().State)
	}
	if len(placer.placed) == 0 {
		t.Fatalf("expected at least one order to have been placed while running")
	}
}
