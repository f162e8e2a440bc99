// Package chain is a thin, stateless per-chain RPC client over an opaque
// settlement contract. It reads escrow balances and token decimals, locks
// escrow for an order, submits the two-leg settlement call, and reads
// nonce/owner/signer identity, grounded on original_source/
// market_maker_bot/lib/web3_client.py's operation set, adapted from raw
// web3.py contract calls onto go-ethereum's ethclient + abi/bind, and on
// exec/client.go for key loading and dry-run gating.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/apperr"
)

// settlementABI is the minimal function set the settlement contract is
// assumed to expose. The contract's own implementation is out of scope
// here: this is only the call surface the coordinator and validator need.
const settlementABI = `[
	{"name":"decimals","type":"function","stateMutability":"view",
	 "inputs":[{"name":"token","type":"address"}],
	 "outputs":[{"name":"","type":"uint8"}]},
	{"name":"checkEscrowBalance","type":"function","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
	 "outputs":[{"name":"total","type":"uint256"},{"name":"available","type":"uint256"},{"name":"locked","type":"uint256"}]},
	{"name":"lockEscrowForOrder","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"orderId","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"depositToEscrow","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"settleCrossChainTrade","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"orderId","type":"uint256"},{"name":"party1","type":"address"},{"name":"party2","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"isSource","type":"bool"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"getUserNonce","type":"function","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"owner","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"mint","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var parsedSettlementABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid embedded ABI: %v", err))
	}
	parsedSettlementABI = parsed
}

// DefaultDecimalFallback is used when a token's decimals() call cannot be
// read at all.
const DefaultDecimalFallback uint8 = 18

// Receipt is the decoded outcome of a state-changing call.
type Receipt struct {
	TxHash  string
	Success bool
}

// EscrowBalance mirrors types.EscrowBalance but without the (user, token,
// chain) identity, since the caller already knows those.
type EscrowBalance struct {
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Client is a stateless value over one chain's RPC endpoint and settlement
// contract: safe to construct per call and cheap to do so. The only shared
// mutable state is the underlying ethclient's connection pool, which is
// itself concurrency-safe.
type Client struct {
	ChainKey        string
	ContractAddress common.Address
	signer          *ecdsa.PrivateKey
	signerAddress   common.Address
	dryRun          bool

	ec       *ethclient.Client
	contract *bind.BoundContract
}

// Config is everything needed to construct a Client for one chain.
type Config struct {
	ChainKey        string
	RPCURL          string
	ChainID         int64
	ContractAddress string
	SignerKeyHex    string // hex-encoded ECDSA private key, no 0x required
	DryRun          bool
}

// NewClient dials the chain's RPC endpoint and binds the settlement
// contract. DryRun clients skip the dial and never submit transactions;
// read calls still require connectivity, so DryRun is intended for the
// market-maker driver's simulated mode, not the coordinator.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		ChainKey:        cfg.ChainKey,
		ContractAddress: common.HexToAddress(cfg.ContractAddress),
		dryRun:          cfg.DryRun,
	}

	if cfg.SignerKeyHex != "" {
		keyHex := strings.TrimPrefix(cfg.SignerKeyHex, "0x")
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "invalid signer key", err)
		}
		c.signer = key
		c.signerAddress = crypto.PubkeyToAddress(key.PublicKey)
	}

	if cfg.DryRun {
		return c, nil
	}

	ec, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRPCTransient, "dial rpc", err)
	}
	c.ec = ec
	c.contract = bind.NewBoundContract(c.ContractAddress, parsedSettlementABI, ec, ec, ec)
	return c, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return apperr.Wrap(apperr.KindRPCTransient, "rpc timeout", err)
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return apperr.Wrap(apperr.KindRPCTransient, "rate limited", err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "eof"):
		return apperr.Wrap(apperr.KindRPCTransient, "rpc unreachable", err)
	case strings.Contains(msg, "revert"), strings.Contains(msg, "execution reverted"):
		return apperr.Wrap(apperr.KindRPCFatal, "contract reverted", err)
	default:
		return apperr.Wrap(apperr.KindRPCFatal, "rpc decode or call failure", err)
	}
}

// GetTokenDecimals reads the token's decimals. Callers with a fallback
// policy should treat any error here as "unavailable" and substitute
// DefaultDecimalFallback or a per-symbol value; this method itself
// performs no retry (retry budget is owned by the caller, since it
// differs by call site).
func (c *Client) GetTokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals", token); err != nil {
		return 0, classify(err)
	}
	return out[0].(uint8), nil
}

// CheckEscrowBalance reads (total, available, locked) in raw token units
// and normalizes by decimals into decimal.Decimal.
func (c *Client) CheckEscrowBalance(ctx context.Context, user, token common.Address, decimals uint8) (EscrowBalance, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "checkEscrowBalance", user, token); err != nil {
		return EscrowBalance{}, classify(err)
	}
	scale := decimal.New(1, int32(decimals))
	total := decimal.NewFromBigInt(out[0].(*big.Int), 0).Div(scale)
	available := decimal.NewFromBigInt(out[1].(*big.Int), 0).Div(scale)
	locked := decimal.NewFromBigInt(out[2].(*big.Int), 0).Div(scale)
	return EscrowBalance{Total: total, Available: available, Locked: locked}, nil
}

// ToRawAmount converts a normalized decimal amount into the token's raw
// integer unit by rounding value * 10^decimals to the nearest integer.
func ToRawAmount(value decimal.Decimal, decimals uint8) *big.Int {
	scale := decimal.New(1, int32(decimals))
	return value.Mul(scale).Round(0).BigInt()
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.signer == nil {
		return nil, apperr.New(apperr.KindInternal, "chain client has no signer configured")
	}
	chainID, err := c.ec.ChainID(ctx)
	if err != nil {
		return nil, classify(err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.signer, chainID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build transactor", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (c *Client) sendAndWait(ctx context.Context, opts *bind.TransactOpts, method string, params ...interface{}) (Receipt, error) {
	if c.dryRun {
		return Receipt{TxHash: fmt.Sprintf("dryrun-%s", method), Success: true}, nil
	}
	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		return Receipt{}, classify(err)
	}
	receipt, err := bind.WaitMined(ctx, c.ec, tx)
	if err != nil {
		return Receipt{}, classify(err)
	}
	return Receipt{TxHash: tx.Hash().Hex(), Success: receipt.Status == types.ReceiptStatusSuccessful}, nil
}

// LockEscrowForOrder locks amount (raw units) of token for user against
// orderID. The contract is assumed to treat (orderID, user, token) as an
// idempotent key, so a retried call after a transient failure is safe.
func (c *Client) LockEscrowForOrder(ctx context.Context, user, token common.Address, amount *big.Int, orderID int64) (Receipt, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return c.sendAndWait(ctx, opts, "lockEscrowForOrder", user, token, amount, big.NewInt(orderID))
}

// DepositToEscrow deposits amount (raw units) of token into the caller's
// escrow balance, topping up what LockEscrowForOrder can draw against.
// Used by the market-maker driver, not by order matching or settlement.
func (c *Client) DepositToEscrow(ctx context.Context, token common.Address, amount *big.Int) (Receipt, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return c.sendAndWait(ctx, opts, "depositToEscrow", token, amount)
}

// SettleCrossChainTrade submits one leg of a trade settlement. The
// idempotency key enforced by the contract is
// (orderID, party1, party2, isSource).
func (c *Client) SettleCrossChainTrade(ctx context.Context, orderID int64, party1, party2, token common.Address, amount *big.Int, isSource bool) (Receipt, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return c.sendAndWait(ctx, opts, "settleCrossChainTrade", big.NewInt(orderID), party1, party2, token, amount, isSource)
}

// GetUserNonce reads the settlement-contract-local nonce for (user, token).
func (c *Client) GetUserNonce(ctx context.Context, user, token common.Address) (uint64, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getUserNonce", user, token); err != nil {
		return 0, classify(err)
	}
	return out[0].(*big.Int).Uint64(), nil
}

// GetContractOwner reads the contract's recorded owner, used by the
// coordinator's authorization precheck.
func (c *Client) GetContractOwner(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "owner"); err != nil {
		return common.Address{}, classify(err)
	}
	return out[0].(common.Address), nil
}

// GetSignerAddress returns the address this client signs with; the zero
// address if no signer was configured.
func (c *Client) GetSignerAddress() common.Address {
	return c.signerAddress
}

// MintToken is a faucet-only convenience, not required in production.
func (c *Client) MintToken(ctx context.Context, token, to common.Address, amount *big.Int) (Receipt, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return c.sendAndWait(ctx, opts, "mint", token, to, amount)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.ec != nil {
		c.ec.Close()
	}
}

// backoffDelay is shared by callers implementing linear retry backoff:
// 0.5*(n+1)s for decimals/escrow/nonce reads, 0.75*(n+1)s for lock calls.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(attempt+1) * base
}

// Retry runs fn up to attempts times, sleeping backoffDelay(base, n)
// between attempts, stopping early on a non-retryable error. It is shared
// by validator and settlement so each call site's distinct retry budget
// (decimals ≤3, escrow ≤4, nonce ≤3, lock ≤3) uses one policy
// implementation.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var lastErr error
	for n := 0; n < attempts; n++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !apperr.Retryable(lastErr) {
			return lastErr
		}
		if n == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(base, n)):
		}
	}
	return lastErr
}
