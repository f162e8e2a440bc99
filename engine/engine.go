// Package engine is the central orchestrator: a single Engine value owned
// by the process, carrying per-symbol order books behind the
// single-writer-per-symbol discipline of the book package plus a registry
// of chain clients, replacing what the original kept as module-level
// globals (order_books dict, one settlement_client), grounded on
// core/engine.go's Engine{mu, positions, running, stopCh} shape and
// consumer-interface idiom, generalized from one strategy loop to the
// exchange's validate/match/settle pipeline.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/activity"
	"github.com/ledgerbridge/crossbook/book"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/config"
	"github.com/ledgerbridge/crossbook/escrow"
	"github.com/ledgerbridge/crossbook/marketmaker"
	"github.com/ledgerbridge/crossbook/registry"
	"github.com/ledgerbridge/crossbook/settlement"
	"github.com/ledgerbridge/crossbook/types"
	"github.com/ledgerbridge/crossbook/validator"
)

// clientMap is the concrete chain-client registry the Engine owns. It
// satisfies escrow.ChainClients and validator.ChainClients directly
// (Client returns *chain.Client) and exposes chainOps, a thin view over the
// same map, for settlement.ChainClients (Client returns settlement.ChainOps).
// Two consumer interfaces name the same method with different return
// types, so one concrete type cannot implement both and a second adapter is
// needed even though it carries no state of its own.
type clientMap map[string]*chain.Client

func (m clientMap) Client(chainKey string) (*chain.Client, bool) {
	c, ok := m[chainKey]
	return c, ok
}

// chainOps adapts clientMap to settlement.ChainClients. *chain.Client
// already implements settlement.ChainOps structurally, so this wrapper only
// exists to give the lookup method the return type that interface expects.
type chainOps struct {
	clients clientMap
}

func (o chainOps) Client(chainKey string) (settlement.ChainOps, bool) {
	c, ok := o.clients[chainKey]
	if !ok {
		return nil, false
	}
	return c, true
}

// Engine wires every domain package into the single process-wide value
// that owns the validate -> match -> settle pipeline.
type Engine struct {
	cfg      *config.Config
	registry *registry.Registry
	clients  clientMap

	validator   *validator.Validator
	escrowView  *escrow.View
	coordinator *settlement.Coordinator
	activityLog *activity.Log
	notifier    settlement.Notifier

	settlementAddress string

	booksMu sync.RWMutex
	books   map[string]*book.Book

	driversMu sync.Mutex
	drivers   []*marketmaker.Driver

	pendingMu sync.Mutex
	pending   map[int64][]types.Trade // orderID -> trades awaiting a client signature
}

// Deps bundles the pre-constructed pieces Engine wires together; everything
// here is built by cmd/exchanged/main.go from a *config.Config.
type Deps struct {
	Config      *config.Config
	Registry    *registry.Registry
	Clients     map[string]*chain.Client
	ActivityLog *activity.Log
	Ledger      *settlement.Ledger
	Notifier    settlement.Notifier
}

// New assembles the Engine from Deps, constructing the validator, escrow
// view, and settlement coordinator that sit between them.
func New(deps Deps) *Engine {
	clients := clientMap(deps.Clients)

	escrowView := escrow.New(deps.Registry, clients)
	val := validator.New(deps.Registry, escrowView, clients, nil)

	mode := settlement.ModeSync
	if deps.Config != nil && !deps.Config.SettlementSync {
		mode = settlement.ModeAsync
	}

	coordinator := settlement.New(settlement.Config{
		Registry:    deps.Registry,
		Clients:     chainOps{clients: clients},
		Ledger:      deps.Ledger,
		Notifier:    deps.Notifier,
		Mode:        mode,
		SyncTimeout: syncTimeout(deps.Config),
	})

	return &Engine{
		cfg:               deps.Config,
		registry:          deps.Registry,
		clients:           clients,
		validator:         val,
		escrowView:        escrowView,
		coordinator:       coordinator,
		activityLog:       deps.ActivityLog,
		notifier:          deps.Notifier,
		settlementAddress: resolveSettlementAddress(deps.Registry),
		books:             make(map[string]*book.Book),
		pending:           make(map[int64][]types.Trade),
	}
}

// syncTimeout resolves the coordinator's ModeSync timeout from config,
// falling back to the coordinator's own 8s default (passing 0 through).
func syncTimeout(cfg *config.Config) time.Duration {
	if cfg == nil {
		return 0
	}
	return cfg.SettlementSyncTimeout
}

// resolveSettlementAddress mirrors the original's single global
// TRADE_SETTLEMENT_CONTRACT_ADDRESS, which defaults to the hedera chain's
// contract address rather than being a per-chain map; get_settlement_address
// always returns this one value regardless of which chain an order settles
// on.
func resolveSettlementAddress(reg *registry.Registry) string {
	if cfg, ok := reg.Chain("hedera"); ok && cfg.ContractAddress != "" {
		return cfg.ContractAddress
	}
	for _, cfg := range reg.All() {
		if cfg.ContractAddress != "" {
			return cfg.ContractAddress
		}
	}
	return ""
}

// bookFor returns the book for symbol, creating an empty one on first use
// (auto-vivification, matching the original's
// `if symbol not in order_books: order_books[symbol] = OrderBook()`).
func (e *Engine) bookFor(symbol string) *book.Book {
	e.booksMu.RLock()
	b, ok := e.books[symbol]
	e.booksMu.RUnlock()
	if ok {
		return b
	}

	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	if b, ok = e.books[symbol]; ok {
		return b
	}
	b = book.New(symbol)
	e.books[symbol] = b
	return b
}

// RegisterDriver attaches a market-maker driver to the engine's lifecycle
// so Stop() cancels its resting orders along with everything else.
func (e *Engine) RegisterDriver(d *marketmaker.Driver) {
	e.driversMu.Lock()
	defer e.driversMu.Unlock()
	e.drivers = append(e.drivers, d)
}

// Stop winds the engine down: every registered market-maker driver first
// (so its cancels still have a settlement coordinator to call into, even
// though plain cancellation never settles), then the settlement
// coordinator's in-flight background continuations, then the activity log.
func (e *Engine) Stop() error {
	e.driversMu.Lock()
	drivers := append([]*marketmaker.Driver(nil), e.drivers...)
	e.driversMu.Unlock()

	for _, d := range drivers {
		if err := d.Stop(); err != nil {
			log.Warn().Err(err).Msg("engine: market maker stop failed")
		}
	}

	if err := e.coordinator.Stop(); err != nil {
		log.Warn().Err(err).Msg("engine: settlement coordinator stop failed")
	}

	for _, c := range e.clients {
		c.Close()
	}

	if e.activityLog != nil {
		return e.activityLog.Close()
	}
	return nil
}

// Networks returns every configured chain's public connection info, the
// direct wire shape for the networks endpoint.
func (e *Engine) Networks() map[string]types.NetworkInfo {
	all := e.registry.All()
	out := make(map[string]types.NetworkInfo, len(all))
	for key, cfg := range all {
		out[key] = types.NetworkInfo{
			RPC:             cfg.RPCURL,
			ChainID:         cfg.ChainID,
			ContractAddress: cfg.ContractAddress,
			Tokens:          cfg.Tokens,
		}
	}
	return out
}

// SettlementAddress returns the single global settlement contract address
// the original API reports, regardless of which chain a given trade
// ultimately settles on.
func (e *Engine) SettlementAddress() string {
	return e.settlementAddress
}

// Faucet mints amount of asset on network to the given address, for test
// environments only, never reachable from matching or settlement.
func (e *Engine) Faucet(ctx context.Context, to, asset, network string, amount decimal.Decimal) (chain.Receipt, error) {
	client, ok := e.clients.Client(network)
	if !ok {
		return chain.Receipt{}, fmt.Errorf("engine: unknown network %q", network)
	}
	tokenAddr, ok := e.registry.TokenAddress(asset, network)
	if !ok {
		return chain.Receipt{}, fmt.Errorf("engine: unknown asset %q on %q", asset, network)
	}
	decimals := faucetDecimals(asset)
	raw := chain.ToRawAmount(amount, decimals)
	return client.MintToken(ctx, common.HexToAddress(tokenAddr), common.HexToAddress(to), raw)
}

// faucetDecimals mirrors the original faucet handler's hardcoded rule:
// 18 decimals for the native HBAR asset, 6 for everything else.
func faucetDecimals(asset string) uint8 {
	if asset == "HBAR" {
		return 18
	}
	return 6
}

// nowNano is the single clock read used to stamp an order's arrival time
// before handing it to book.Book, which never reads the wall clock itself.
func nowNano() int64 {
	return time.Now().UnixNano()
}
