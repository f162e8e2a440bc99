// Package marketmaker is a reference-price-following quoting loop that
// keeps one order, a bid or an ask, resting near a reference price, topping up
// escrow before each placement, grounded on
// original_source/market_maker_bot/src/market_maker_bot.py's
// MarketMakerBot (calculate_market_prices, get_market_reference_price,
// update_orders, run_bot/start_bot/stop_bot) and on core/engine.go's
// Start/Stop-with-stopCh shape, generalized here to a tomb.v2-supervised
// ticking goroutine.
package marketmaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"

	"github.com/ledgerbridge/crossbook/types"
)

// State is the driver's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// DefaultPollInterval mirrors the original's 60-second update_orders cadence.
const DefaultPollInterval = 60 * time.Second

// errorRetryDelay mirrors the original's 10-second short wait before
// retrying after an error inside the bot loop.
const errorRetryDelay = 10 * time.Second

// ReferencePriceFetcher fetches an external reference price for a symbol.
// Satisfied by RestyPriceFetcher; declared as an interface so tests can
// substitute a fake without any network access.
type ReferencePriceFetcher interface {
	FetchPrice(ctx context.Context, baseAsset, quoteAsset string) (decimal.Decimal, error)
}

// OrderBookView is the local-mid/best-price fallback source, satisfied by
// an engine-level adapter over book.Book.
type OrderBookView interface {
	BestBid(symbol string) (decimal.Decimal, bool)
	BestAsk(symbol string) (decimal.Decimal, bool)
}

// OrderPlacer places and cancels orders against the matching engine.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order types.Order) (trades []types.Trade, orderID int64, err error)
	CancelOrder(ctx context.Context, symbol string, side types.Side, orderID int64) error
}

// EscrowTopUp ensures an account has at least `required` available escrow
// on (chainKey, tokenSymbol), depositing more if it does not.
type EscrowTopUp interface {
	EnsureAvailable(ctx context.Context, account, tokenSymbol, chainKey string, required decimal.Decimal) (bool, error)
}

// Notifier delivers a best-effort operational alert.
type Notifier interface {
	Alert(kind, detail string)
}

// Config configures one Driver instance: one (base, quote) pair, one side,
// one account.
type Config struct {
	Account       string
	BaseAsset     string
	QuoteAsset    string
	Side          types.Side // the one side to quote; SideBid or SideAsk
	Quantity      decimal.Decimal
	SpreadPercent decimal.Decimal // e.g. 0.5 means 0.5%
	ManualPrice   *decimal.Decimal
	FromNetwork   string
	ToNetwork     string
	ReceiveWallet string
	PollInterval  time.Duration
}

func (c Config) symbol() string {
	return fmt.Sprintf("%s_%s", c.BaseAsset, c.QuoteAsset)
}

// Driver is the Market-Maker Driver.
type Driver struct {
	cfg      Config
	prices   ReferencePriceFetcher
	book     OrderBookView
	placer   OrderPlacer
	escrow   EscrowTopUp
	notifier Notifier

	mu             sync.Mutex
	state          State
	currentOrders  map[types.Side]int64
	consecutiveErr int

	t tomb.Tomb
}

// New constructs an idle Driver.
func New(cfg Config, prices ReferencePriceFetcher, book OrderBookView, placer OrderPlacer, escrow EscrowTopUp, notifier Notifier) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Driver{
		cfg:           cfg,
		prices:        prices,
		book:          book,
		placer:        placer,
		escrow:        escrow,
		notifier:      notifier,
		state:         StateIdle,
		currentOrders: make(map[types.Side]int64),
	}
}

// Status is a snapshot of the driver's current state, mirroring the
// original's get_status().
type Status struct {
	State         State
	Symbol        string
	CurrentOrders map[types.Side]int64
	Timestamp     time.Time
}

func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	orders := make(map[types.Side]int64, len(d.currentOrders))
	for k, v := range d.currentOrders {
		orders[k] = v
	}
	return Status{State: d.state, Symbol: d.cfg.symbol(), CurrentOrders: orders, Timestamp: time.Now()}
}

// Start transitions idle -> running and launches the quoting loop. It
// returns an error if the driver is not idle.
func (d *Driver) Start() error {
	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return fmt.Errorf("marketmaker: cannot start from state %s", d.state)
	}
	d.state = StateRunning
	d.mu.Unlock()

	d.t = tomb.Tomb{}
	d.t.Go(d.run)
	log.Info().Str("symbol", d.cfg.symbol()).Msg("market maker started")
	return nil
}

// Stop transitions running -> stopping -> idle, cancelling any resting
// orders before returning.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	d.mu.Unlock()

	d.t.Kill(nil)
	err := d.t.Wait()

	ctx := context.Background()
	d.mu.Lock()
	for side, orderID := range d.currentOrders {
		if cerr := d.placer.CancelOrder(ctx, d.cfg.symbol(), side, orderID); cerr != nil {
			log.Warn().Err(cerr).Int64("order_id", orderID).Msg("market maker: error cancelling order during shutdown")
		}
	}
	d.currentOrders = make(map[types.Side]int64)
	d.state = StateIdle
	d.mu.Unlock()

	log.Info().Str("symbol", d.cfg.symbol()).Msg("market maker stopped")
	return err
}

// run is the main loop: update orders on each tick until killed.
func (d *Driver) run() error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	if err := d.updateOrders(context.Background()); err != nil {
		log.Error().Err(err).Msg("market maker: initial order update failed")
	}

	for {
		select {
		case <-d.t.Dying():
			return nil
		case <-ticker.C:
			if err := d.updateOrders(context.Background()); err != nil {
				log.Error().Err(err).Msg("market maker: order update failed")
				select {
				case <-d.t.Dying():
					return nil
				case <-time.After(errorRetryDelay):
				}
			}
		}
	}
}

// calculateMarketPrices mirrors the original's calculate_market_prices:
// spread = reference * (spreadPercent / 100), bid = reference - spread/2,
// ask = reference + spread/2.
func calculateMarketPrices(reference, spreadPercent decimal.Decimal) (bid, ask decimal.Decimal) {
	hundred := decimal.NewFromInt(100)
	two := decimal.NewFromInt(2)
	spread := reference.Mul(spreadPercent).Div(hundred)
	half := spread.Div(two)
	return reference.Sub(half), reference.Add(half)
}

// referencePrice resolves a price via a fallback chain: manual override
// -> external fetcher -> local order-book mid -> best-bid/ask nudged
// 0.1% -> failure.
func (d *Driver) referencePrice(ctx context.Context) (decimal.Decimal, error) {
	if d.cfg.ManualPrice != nil {
		return *d.cfg.ManualPrice, nil
	}

	if d.prices != nil {
		price, err := d.prices.FetchPrice(ctx, d.cfg.BaseAsset, d.cfg.QuoteAsset)
		if err == nil && price.IsPositive() {
			return price, nil
		}
	}

	symbol := d.cfg.symbol()
	bid, hasBid := d.book.BestBid(symbol)
	ask, hasAsk := d.book.BestAsk(symbol)

	switch {
	case hasBid && hasAsk:
		return bid.Add(ask).Div(decimal.NewFromInt(2)), nil
	case hasBid:
		return bid.Mul(decimal.RequireFromString("1.001")), nil
	case hasAsk:
		return ask.Mul(decimal.RequireFromString("0.999")), nil
	default:
		return decimal.Zero, fmt.Errorf("marketmaker: no reference price available for %s", symbol)
	}
}

// obligation mirrors validator.obligation's (chain, token, amount) rule for
// the side this driver is about to quote, so escrow can be topped up before
// placement.
func (d *Driver) obligation(side types.Side, price decimal.Decimal) (chainKey, tokenSymbol string, required decimal.Decimal) {
	if side == types.SideAsk {
		return d.cfg.FromNetwork, d.cfg.BaseAsset, d.cfg.Quantity
	}
	return d.cfg.ToNetwork, d.cfg.QuoteAsset, d.cfg.Quantity.Mul(price)
}

// updateOrders cancels the driver's existing order(s) on its configured
// side(s) and places fresh ones at the newly computed bid/ask, mirroring
// the original's update_orders.
func (d *Driver) updateOrders(ctx context.Context) error {
	reference, err := d.referencePrice(ctx)
	if err != nil {
		return err
	}
	bid, ask := calculateMarketPrices(reference, d.cfg.SpreadPercent)

	symbol := d.cfg.symbol()

	d.mu.Lock()
	prevOrders := d.currentOrders
	d.currentOrders = make(map[types.Side]int64)
	d.mu.Unlock()

	for side, orderID := range prevOrders {
		if err := d.placer.CancelOrder(ctx, symbol, side, orderID); err != nil {
			log.Warn().Err(err).Int64("order_id", orderID).Msg("market maker: cancel existing order failed")
		}
	}

	if d.cfg.Side == types.SideBid {
		if err := d.placeAt(ctx, types.SideBid, bid); err != nil {
			return err
		}
	}
	if d.cfg.Side == types.SideAsk {
		if err := d.placeAt(ctx, types.SideAsk, ask); err != nil {
			return err
		}
	}

	log.Info().Str("symbol", symbol).Str("bid", bid.String()).Str("ask", ask.String()).
		Str("reference", reference.String()).Msg("market maker orders updated")
	return nil
}

// placeAt ensures escrow then places a single limit order on one side.
func (d *Driver) placeAt(ctx context.Context, side types.Side, price decimal.Decimal) error {
	chainKey, tokenSymbol, required := d.obligation(side, price)

	ok, err := d.escrow.EnsureAvailable(ctx, d.cfg.Account, tokenSymbol, chainKey, required)
	if err != nil || !ok {
		d.mu.Lock()
		d.consecutiveErr++
		n := d.consecutiveErr
		d.mu.Unlock()
		if n >= 3 {
			alertf(d.notifier, "escrow_topup_failed", fmt.Sprintf("market maker could not secure escrow on %s for %s after %d attempts", chainKey, tokenSymbol, n))
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("marketmaker: insufficient escrow for %s order on %s", side, chainKey)
	}
	d.mu.Lock()
	d.consecutiveErr = 0
	d.mu.Unlock()

	order := types.Order{
		Account:       d.cfg.Account,
		Side:          side,
		Type:          types.OrderTypeLimit,
		Price:         price,
		Quantity:      d.cfg.Quantity,
		Base:          d.cfg.BaseAsset,
		Quote:         d.cfg.QuoteAsset,
		FromNetwork:   d.cfg.FromNetwork,
		ToNetwork:     d.cfg.ToNetwork,
		ReceiveWallet: d.cfg.ReceiveWallet,
		Timestamp:     time.Now().UnixNano(),
	}

	_, orderID, err := d.placer.PlaceOrder(ctx, order)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.currentOrders[side] = orderID
	d.mu.Unlock()
	return nil
}

func alertf(n Notifier, kind, detail string) {
	if n != nil {
		n.Alert(kind, detail)
	}
}
