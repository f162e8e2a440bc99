package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"

	"github.com/ledgerbridge/crossbook/apperr"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/registry"
	"github.com/ledgerbridge/crossbook/types"
)

// ChainOps is the subset of *chain.Client the coordinator calls. Declaring
// it here (rather than depending on chain.Client directly) lets tests
// substitute a fake chain without a live RPC endpoint, the same
// import-boundary idiom used by validator.EscrowReader.
type ChainOps interface {
	GetContractOwner(ctx context.Context) (common.Address, error)
	GetSignerAddress() common.Address
	GetUserNonce(ctx context.Context, user, token common.Address) (uint64, error)
	GetTokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	LockEscrowForOrder(ctx context.Context, user, token common.Address, amount *big.Int, orderID int64) (chain.Receipt, error)
	CheckEscrowBalance(ctx context.Context, user, token common.Address, decimals uint8) (chain.EscrowBalance, error)
	SettleCrossChainTrade(ctx context.Context, orderID int64, party1, party2, token common.Address, amount *big.Int, isSource bool) (chain.Receipt, error)
}

// decimalFallback mirrors validator.DefaultDecimalFallback; kept local
// rather than imported so the coordinator's own decimals-with-fallback
// policy does not create a dependency on the validator package for what
// is, in the original, an independently-repeated lookup at every call
// site.
var decimalFallback = map[string]uint8{
	"USDT": 6,
	"HBAR": 18,
}

const defaultDecimals uint8 = 18

const (
	nonceRetryAttempts = 3
	nonceBackoffBase   = 500 * time.Millisecond
	lockRetryAttempts  = 3
	lockBackoffBase    = 750 * time.Millisecond
)

// Mode selects how Settle behaves once called.
type Mode int

const (
	// ModeSync awaits the full settlement within SyncTimeout, falling back
	// to a background continuation on timeout.
	ModeSync Mode = iota
	// ModeAsync fires the settlement in the background and returns
	// immediately with Result.Async set.
	ModeAsync
)

// LegOutcome is the result of one chain's leg of a trade settlement.
type LegOutcome struct {
	Chain   string
	Success bool
	Skipped bool
	Reason  string
	TxHash  string
}

// Result is the outcome of settling one trade, matching the
// settlement_info response shape callers assemble their reply from.
type Result struct {
	TradeID          string
	OrderID          int64
	Success          bool
	TimedOut         bool
	Async            bool
	Reason           string
	SourceChain      LegOutcome
	DestinationChain LegOutcome
}

// ChainClients resolves a chain key to its RPC client.
type ChainClients interface {
	Client(chainKey string) (ChainOps, bool)
}

// Notifier delivers a best-effort operational alert; satisfied by
// notify.Notifier. A nil Notifier silently drops alerts.
type Notifier interface {
	Alert(kind, detail string)
}

// Coordinator sequences cross-chain trade settlement.
type Coordinator struct {
	registry    *registry.Registry
	clients     ChainClients
	ledger      *Ledger
	notifier    Notifier
	mode        Mode
	syncTimeout time.Duration
	t           tomb.Tomb
}

// Config configures a Coordinator.
type Config struct {
	Registry    *registry.Registry
	Clients     ChainClients
	Ledger      *Ledger
	Notifier    Notifier
	Mode        Mode
	SyncTimeout time.Duration // default 8s if zero
}

// New constructs a Coordinator. The returned Coordinator owns a
// gopkg.in/tomb.v2 Tomb supervising its background continuation
// goroutines, grounded on saiputravu-Exchange's worker-pool use of tomb.v2
// generalized here to one continuation per timed-out synchronous
// settlement plus every asynchronous settlement.
func New(cfg Config) *Coordinator {
	timeout := cfg.SyncTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	c := &Coordinator{
		registry:    cfg.Registry,
		clients:     cfg.Clients,
		ledger:      cfg.Ledger,
		notifier:    cfg.Notifier,
		mode:        cfg.Mode,
		syncTimeout: timeout,
	}
	// A keeper goroutine holds the tomb open until Stop, so Settle can keep
	// adding continuations after earlier ones finish and Stop returns even
	// when no settlement was ever started.
	c.t.Go(func() error {
		<-c.t.Dying()
		return nil
	})
	return c
}

// Stop waits for any in-flight background continuations to finish.
func (c *Coordinator) Stop() error {
	c.t.Kill(nil)
	return c.t.Wait()
}

func alertf(n Notifier, kind, detail string) {
	if n != nil {
		n.Alert(kind, detail)
	}
}

// Settle drives settlement for a single trade, dispatching synchronously
// or asynchronously depending on the coordinator's execution mode.
func (c *Coordinator) Settle(parent context.Context, orderID int64, trade types.Trade) *Result {
	if c.mode == ModeAsync {
		c.t.Go(func() error {
			res := c.settleTrade(context.Background(), orderID, trade)
			c.logOutcome(res)
			return nil
		})
		return &Result{TradeID: trade.TradeID, OrderID: orderID, Async: true, Reason: "processing_async"}
	}

	ctx, cancel := context.WithTimeout(parent, c.syncTimeout)
	defer cancel()

	done := make(chan *Result)
	c.t.Go(func() error {
		res := c.settleTrade(context.Background(), orderID, trade)
		select {
		case done <- res:
		case <-ctx.Done():
			// The foreground already timed out; this is the background
			// continuation's final word, so it still gets logged even
			// though nobody is waiting on done anymore.
			c.logOutcome(res)
		}
		return nil
	})

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return &Result{TradeID: trade.TradeID, OrderID: orderID, TimedOut: true, Reason: "timeout"}
	}
}

func (c *Coordinator) logOutcome(res *Result) {
	log.Info().
		Str("trade_id", res.TradeID).
		Int64("order_id", res.OrderID).
		Bool("success", res.Success).
		Str("source_chain", res.SourceChain.Chain).
		Str("dest_chain", res.DestinationChain.Chain).
		Msg("settlement background continuation finished")
}

// settleTrade is the synchronous, blocking implementation of the full
// lock-then-settle step sequence. It never returns an error: every
// failure mode is represented in the returned Result so one trade's
// fatal error never poisons the caller's handling of other trades.
func (c *Coordinator) settleTrade(ctx context.Context, orderID int64, trade types.Trade) *Result {
	party1, party2 := normalizeRoles(trade.Party1, trade.Party2)
	result := &Result{TradeID: trade.TradeID, OrderID: orderID}

	sourceCfg, ok := c.registry.Chain(party1.FromNetwork)
	if !ok {
		return c.fail(result, apperr.KindNetworkNotConfigured, "source chain "+party1.FromNetwork+" not configured")
	}
	destCfg, ok := c.registry.Chain(party2.FromNetwork)
	if !ok {
		return c.fail(result, apperr.KindNetworkNotConfigured, "destination chain "+party2.FromNetwork+" not configured")
	}
	result.SourceChain.Chain = sourceCfg.Key
	result.DestinationChain.Chain = destCfg.Key

	sourceClient, ok := c.clients.Client(sourceCfg.Key)
	if !ok {
		return c.fail(result, apperr.KindNetworkNotConfigured, "no client for source chain "+sourceCfg.Key)
	}
	destClient, ok := c.clients.Client(destCfg.Key)
	if !ok {
		return c.fail(result, apperr.KindNetworkNotConfigured, "no client for destination chain "+destCfg.Key)
	}

	owner, err := sourceClient.GetContractOwner(ctx)
	if err != nil {
		return c.fail(result, apperr.KindRPCFatal, "read contract owner: "+err.Error())
	}
	if owner != sourceClient.GetSignerAddress() {
		alertf(c.notifier, string(apperr.KindSignerNotOwner), "engine signer is not the contract owner on "+sourceCfg.Key)
		return c.fail(result, apperr.KindSignerNotOwner, "engine signer is not the contract owner")
	}

	baseSymbol, quoteSymbol := splitSymbol(trade.Symbol)

	baseAddr, ok := c.registry.TokenAddress(baseSymbol, sourceCfg.Key)
	if !ok {
		return c.fail(result, apperr.KindNetworkNotConfigured, "base token "+baseSymbol+" not configured on "+sourceCfg.Key)
	}
	quoteAddr, ok := c.registry.TokenAddress(quoteSymbol, destCfg.Key)
	if !ok {
		return c.fail(result, apperr.KindNetworkNotConfigured, "quote token "+quoteSymbol+" not configured on "+destCfg.Key)
	}

	var n1, n2 uint64
	if err := chain.Retry(ctx, nonceRetryAttempts, nonceBackoffBase, func() error {
		var e error
		n1, e = sourceClient.GetUserNonce(ctx, common.HexToAddress(party1.Address), common.HexToAddress(baseAddr))
		return e
	}); err != nil {
		return c.fail(result, apperr.KindOf(err), "source nonce fetch: "+err.Error())
	}
	if err := chain.Retry(ctx, nonceRetryAttempts, nonceBackoffBase, func() error {
		var e error
		n2, e = destClient.GetUserNonce(ctx, common.HexToAddress(party2.Address), common.HexToAddress(quoteAddr))
		return e
	}); err != nil {
		return c.fail(result, apperr.KindOf(err), "destination nonce fetch: "+err.Error())
	}
	log.Debug().Uint64("party1_nonce", n1).Uint64("party2_nonce", n2).Int64("order_id", orderID).Msg("settlement nonces resolved")

	baseDecimals := c.resolveDecimals(ctx, sourceClient, baseSymbol, baseAddr)
	baseAmount := decimal.NewFromBigInt(chain.ToRawAmount(trade.Quantity, baseDecimals), 0)

	sourceLeg := c.runLeg(ctx, sourceClient, legRequest{
		orderID:  orderID,
		chainKey: sourceCfg.Key,
		party1:   party1.Address,
		party2:   party2.Address,
		isSource: true,
		user:     party1.Address,
		token:    baseAddr,
		amount:   baseAmount,
		lockKind: apperr.KindInsufficientLockedBase,
	})
	result.SourceChain = sourceLeg

	if sourceCfg.ChainID == destCfg.ChainID {
		result.DestinationChain = LegOutcome{Chain: destCfg.Key, Success: true, Skipped: true, Reason: "same_chain_single_leg"}
		result.Success = sourceLeg.Success
		return result
	}

	quoteDecimals := c.resolveDecimals(ctx, destClient, quoteSymbol, quoteAddr)
	quoteAmount := decimal.NewFromBigInt(chain.ToRawAmount(trade.Quantity.Mul(trade.Price), quoteDecimals), 0)

	destLeg := c.runLeg(ctx, destClient, legRequest{
		orderID:  orderID,
		chainKey: destCfg.Key,
		party1:   party1.Address,
		party2:   party2.Address,
		isSource: false,
		user:     party2.Address,
		token:    quoteAddr,
		amount:   quoteAmount,
		lockKind: apperr.KindInsufficientLockedQuote,
	})
	result.DestinationChain = destLeg
	result.Success = sourceLeg.Success && destLeg.Success
	return result
}

func (c *Coordinator) fail(result *Result, kind apperr.Kind, detail string) *Result {
	result.Reason = detail
	if result.SourceChain.Chain != "" && !result.SourceChain.Success {
		result.SourceChain.Reason = detail
	}
	alertf(c.notifier, string(kind), detail)
	return result
}

type legRequest struct {
	orderID  int64
	chainKey string
	party1   string
	party2   string
	isSource bool
	user     string
	token    string
	amount   decimal.Decimal
	lockKind apperr.Kind
}

// runLeg performs the lock -> verify -> settle sequence for one leg,
// consulting the ledger for settlement-call idempotency (S1: invoking the
// same (order_id, is_source) twice yields the same final state as once).
func (c *Coordinator) runLeg(ctx context.Context, client ChainOps, req legRequest) LegOutcome {
	outcome := LegOutcome{Chain: req.chainKey}

	if rec, ok := c.ledger.Lookup(req.orderID, req.party1, req.party2, req.isSource); ok && rec.Success {
		outcome.Success = true
		outcome.TxHash = rec.TxHash
		outcome.Reason = "idempotent: already settled"
		return outcome
	}

	userAddr := common.HexToAddress(req.user)
	tokenAddr := common.HexToAddress(req.token)

	var lockErr error
	err := chain.Retry(ctx, lockRetryAttempts, lockBackoffBase, func() error {
		_, lockErr = client.LockEscrowForOrder(ctx, userAddr, tokenAddr, req.amount.BigInt(), req.orderID)
		return lockErr
	})
	if err != nil {
		outcome.Reason = err.Error()
		c.ledger.Record(LegRecord{OrderID: req.orderID, Party1Addr: req.party1, Party2Addr: req.party2, IsSource: req.isSource, Success: false, ErrorKind: string(apperr.KindOf(err))})
		return outcome
	}

	balance, err := client.CheckEscrowBalance(ctx, userAddr, tokenAddr, 0)
	if err != nil {
		outcome.Reason = err.Error()
		c.ledger.Record(LegRecord{OrderID: req.orderID, Party1Addr: req.party1, Party2Addr: req.party2, IsSource: req.isSource, Success: false, ErrorKind: string(apperr.KindOf(err))})
		return outcome
	}
	if balance.Locked.LessThan(req.amount) {
		alertf(c.notifier, string(req.lockKind), "locked balance below required amount for order")
		outcome.Reason = string(req.lockKind)
		c.ledger.Record(LegRecord{OrderID: req.orderID, Party1Addr: req.party1, Party2Addr: req.party2, IsSource: req.isSource, Success: false, ErrorKind: string(req.lockKind)})
		return outcome
	}

	receipt, err := client.SettleCrossChainTrade(ctx, req.orderID, common.HexToAddress(req.party1), common.HexToAddress(req.party2), tokenAddr, req.amount.BigInt(), req.isSource)
	if err != nil {
		outcome.Reason = err.Error()
		c.ledger.Record(LegRecord{OrderID: req.orderID, Party1Addr: req.party1, Party2Addr: req.party2, IsSource: req.isSource, Success: false, ErrorKind: string(apperr.KindOf(err))})
		return outcome
	}

	outcome.Success = receipt.Success
	outcome.TxHash = receipt.TxHash
	c.ledger.Record(LegRecord{OrderID: req.orderID, Party1Addr: req.party1, Party2Addr: req.party2, IsSource: req.isSource, TxHash: receipt.TxHash, Success: receipt.Success})
	return outcome
}

func (c *Coordinator) resolveDecimals(ctx context.Context, client ChainOps, symbol, tokenAddr string) uint8 {
	var decimals uint8
	err := chain.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var e error
		decimals, e = client.GetTokenDecimals(ctx, common.HexToAddress(tokenAddr))
		return e
	})
	if err != nil {
		if d, ok := decimalFallback[symbol]; ok {
			return d
		}
		return defaultDecimals
	}
	return decimals
}

// normalizeRoles swaps party1/party2 so party1 is always the seller (ask
// side).
func normalizeRoles(party1, party2 types.TradeParty) (seller, buyer types.TradeParty) {
	if party1.Side == types.SideBid && party2.Side == types.SideAsk {
		return party2, party1
	}
	return party1, party2
}

// splitSymbol splits a canonical "BASE_QUOTE" symbol string. A malformed
// symbol (missing the separator) yields the whole string as base and an
// empty quote, which then fails token resolution explicitly rather than
// panicking.
func splitSymbol(symbol string) (base, quote string) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '_' {
			return symbol[:i], symbol[i+1:]
		}
	}
	return symbol, ""
}
