// Package book implements the per-symbol price-time priority matching
// engine: two price-ordered sides, FIFO within a price level, deterministic
// matching, and O(log P + 1) cancellation by order id.
//
// Ordering within a side is delegated to github.com/tidwall/btree, keyed by
// price; FIFO within one price level is a stdlib container/list so that
// cancelling an order in the middle of a level is an O(1) list splice once
// its element is known.
package book

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/apperr"
	"github.com/ledgerbridge/crossbook/types"

	"github.com/tidwall/btree"
)

// priceLevel is one price on one side: an insertion-ordered FIFO queue of
// *types.Order. It is removed from its side's tree as soon as its list goes
// empty.
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List
}

type levelTree = btree.BTreeG[*priceLevel]

// location lets Cancel find an order's side, price level and list element
// in O(log P) without scanning any level.
type location struct {
	side  types.Side
	price decimal.Decimal
	elem  *list.Element
}

// Book is one symbol's order book. All mutating operations, ProcessOrder
// and Cancel, take the book's mutex, giving the single-writer-per-symbol
// discipline the matching engine requires without needing a dedicated
// goroutine per symbol.
type Book struct {
	mu     sync.Mutex
	Symbol string

	bids *levelTree // best = highest price
	asks *levelTree // best = lowest price

	nextOrderID int64
	index       map[int64]*location
}

// New constructs an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		bids:   btree.NewBTreeG(func(a, b *priceLevel) bool { return a.price.GreaterThan(b.price) }),
		asks:   btree.NewBTreeG(func(a, b *priceLevel) bool { return a.price.LessThan(b.price) }),
		index:  make(map[int64]*location),
	}
}

// ProcessOrder matches incoming against the opposite side, then, if it is
// a limit order with quantity remaining, rests it at the tail of its price
// level. now is the caller-supplied arrival time in nanoseconds (never read
// from the wall clock here, so replays are deterministic). The returned
// order id is types.NoRestingOrder (0) when the order fully filled or was a
// market order with quantity left unfilled (which never rests, per spec).
func (b *Book) ProcessOrder(incoming types.Order, now int64) (trades []types.Trade, orderID int64, err error) {
	if incoming.Quantity.Sign() <= 0 {
		return nil, types.NoRestingOrder, apperr.New(apperr.KindValidationFailed, "order quantity must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	taker := incoming
	taker.Timestamp = now

	trades = b.match(&taker, now)

	if taker.Quantity.Sign() > 0 && taker.Type == types.OrderTypeLimit {
		b.nextOrderID++
		taker.OrderID = b.nextOrderID
		b.rest(&taker)
		return trades, taker.OrderID, nil
	}

	return trades, types.NoRestingOrder, nil
}

// match runs the taker against the opposite side until it stops crossing or
// is exhausted, mutating taker.Quantity and the resting makers in place.
func (b *Book) match(taker *types.Order, now int64) []types.Trade {
	var opposite *levelTree
	if taker.Side == types.SideBid {
		opposite = b.asks
	} else {
		opposite = b.bids
	}

	var trades []types.Trade

	for taker.Quantity.Sign() > 0 {
		level, ok := opposite.Min()
		if !ok {
			break
		}
		if !b.crosses(taker, level.price) {
			break
		}

		elem := level.orders.Front()
		maker := elem.Value.(*types.Order)

		fill := decimal.Min(taker.Quantity, maker.Quantity)

		trades = append(trades, types.Trade{
			TradeID:   uuid.New().String(),
			Timestamp: now,
			Symbol:    b.Symbol,
			Price:     level.price,
			Quantity:  fill,
			Party1:    partyOf(maker),
			Party2:    partyOf(taker),
		})

		taker.Quantity = taker.Quantity.Sub(fill)
		maker.Quantity = maker.Quantity.Sub(fill)

		if maker.Quantity.Sign() == 0 {
			level.orders.Remove(elem)
			delete(b.index, maker.OrderID)
			if level.orders.Len() == 0 {
				opposite.Delete(level)
			}
		}
	}

	return trades
}

func (b *Book) crosses(taker *types.Order, makerPrice decimal.Decimal) bool {
	if taker.Type == types.OrderTypeMarket {
		return true
	}
	if taker.Side == types.SideBid {
		return makerPrice.LessThanOrEqual(taker.Price)
	}
	return makerPrice.GreaterThanOrEqual(taker.Price)
}

func partyOf(o *types.Order) types.TradeParty {
	return types.TradeParty{
		Address:       o.Account,
		Side:          o.Side,
		OrderID:       o.OrderID,
		Price:         o.Price,
		FromNetwork:   o.FromNetwork,
		ToNetwork:     o.ToNetwork,
		ReceiveWallet: o.ReceiveWallet,
		Signature:     o.Signature,
	}
}

// rest inserts an order that still has quantity left at the tail of its
// price level, creating the level if this is the first order at that price.
func (b *Book) rest(order *types.Order) {
	side := b.sideTree(order.Side)

	probe := &priceLevel{price: order.Price}
	level, ok := side.Get(probe)
	if !ok {
		level = &priceLevel{price: order.Price, orders: list.New()}
		side.Set(level)
	}

	elem := level.orders.PushBack(order)
	b.index[order.OrderID] = &location{side: order.Side, price: order.Price, elem: elem}
}

func (b *Book) sideTree(side types.Side) *levelTree {
	if side == types.SideBid {
		return b.bids
	}
	return b.asks
}

// Order returns a copy of the resting order with id on side, or ok=false if
// it is not currently resting. Used by callers that need the order's fields
// (account, price, quantity) before cancelling it.
func (b *Book) Order(side types.Side, orderID int64) (types.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.index[orderID]
	if !ok || loc.side != side {
		return types.Order{}, false
	}
	return *loc.elem.Value.(*types.Order), true
}

// BestOrder returns a copy of the order resting at the front of side's best
// price level, or ok=false if that side is empty.
func (b *Book) BestOrder(side types.Side) (types.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tree := b.sideTree(side)
	level, ok := tree.Min()
	if !ok {
		return types.Order{}, false
	}
	front := level.orders.Front()
	if front == nil {
		return types.Order{}, false
	}
	return *front.Value.(*types.Order), true
}

// Cancel removes a resting order by id. Cancelling an unknown or
// already-filled id is an error, not a no-op.
func (b *Book) Cancel(side types.Side, orderID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.index[orderID]
	if !ok || loc.side != side {
		return apperr.New(apperr.KindValidationFailed, "no such resting order")
	}

	tree := b.sideTree(side)
	probe := &priceLevel{price: loc.price}
	level, ok := tree.Get(probe)
	if !ok {
		return apperr.New(apperr.KindInternal, "price level index inconsistent with book")
	}

	level.orders.Remove(loc.elem)
	delete(b.index, orderID)
	if level.orders.Len() == 0 {
		tree.Delete(level)
	}
	return nil
}

// LevelSnapshot is one aggregated price level as returned by Snapshot.
type LevelSnapshot struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

// Snapshot is a full, point-in-time copy of both sides, best price first.
// Safe to call concurrently with matching; it takes the same mutex.
func (b *Book) Snapshot() (bids, asks []LevelSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Scan(func(l *priceLevel) bool {
		bids = append(bids, snapshotLevel(l))
		return true
	})
	b.asks.Scan(func(l *priceLevel) bool {
		asks = append(asks, snapshotLevel(l))
		return true
	})
	return bids, asks
}

func snapshotLevel(l *priceLevel) LevelSnapshot {
	qty := decimal.Zero
	n := 0
	for e := l.orders.Front(); e != nil; e = e.Next() {
		qty = qty.Add(e.Value.(*types.Order).Quantity)
		n++
	}
	return LevelSnapshot{Price: l.price, Quantity: qty, Orders: n}
}

// BestBid returns the highest resting bid price, or ok=false if the bid
// side is empty.
func (b *Book) BestBid() (price decimal.Decimal, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	level, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.price, true
}

// BestAsk returns the lowest resting ask price, or ok=false if empty.
func (b *Book) BestAsk() (price decimal.Decimal, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	level, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.price, true
}

// Mid returns the midpoint of best bid and best ask; ok is false unless
// both sides have a resting level.
func (b *Book) Mid() (mid decimal.Decimal, ok bool) {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}
