package validator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/apperr"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/registry"
	"github.com/ledgerbridge/crossbook/types"
)

type fakeEscrow struct {
	available decimal.Decimal
	err       error
}

func (f fakeEscrow) Balance(ctx context.Context, user, tokenSymbol, chainKey string, decimals uint8, attempts int) (types.EscrowBalance, error) {
	if f.err != nil {
		return types.EscrowBalance{}, f.err
	}
	return types.EscrowBalance{Available: f.available}, nil
}

type noClients struct{}

func (noClients) Client(string) (*chain.Client, bool) { return nil, false }

func newTestRegistry() *registry.Registry {
	reg := registry.New()
	reg.RegisterChain(types.ChainConfig{
		Key:    "polygon",
		Tokens: map[string]string{"USDT": "0xaaa"},
	})
	return reg
}

func bidOrder(qty, price string) types.Order {
	return types.Order{
		Account:   "0xuser",
		Side:      types.SideBid,
		Quantity:  decimal.RequireFromString(qty),
		Price:     decimal.RequireFromString(price),
		Quote:     "USDT",
		ToNetwork: "polygon",
	}
}

// Scenario 4: validator rejects. Available=10, required=qty1*price20=20.
func TestValidateRejectsInsufficientEscrow(t *testing.T) {
	v := New(newTestRegistry(), fakeEscrow{available: decimal.RequireFromString("10")}, noClients{}, nil)

	result, err := v.Validate(context.Background(), bidOrder("1", "20"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected invalid result, required 20 > available 10: %+v", result)
	}
	if !result.Required.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected required=20, got %s", result.Required)
	}
}

func TestValidateAcceptsSufficientEscrow(t *testing.T) {
	v := New(newTestRegistry(), fakeEscrow{available: decimal.RequireFromString("25")}, noClients{}, nil)

	result, err := v.Validate(context.Background(), bidOrder("1", "20"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result, available 25 >= required 20: %+v", result)
	}
}

func TestValidateFailsClosedOnEscrowError(t *testing.T) {
	v := New(newTestRegistry(), fakeEscrow{err: apperr.New(apperr.KindRPCFatal, "boom")}, noClients{}, nil)

	_, err := v.Validate(context.Background(), bidOrder("1", "20"))
	if !apperr.Is(err, apperr.KindValidationFailed) {
		t.Fatalf("expected validation_failed on unreadable escrow, got %v", err)
	}
}

func TestValidateRejectsUnknownChain(t *testing.T) {
	v := New(registry.New(), fakeEscrow{available: decimal.RequireFromString("100")}, noClients{}, nil)

	_, err := v.Validate(context.Background(), bidOrder("1", "20"))
	if !apperr.Is(err, apperr.KindValidationFailed) {
		t.Fatalf("expected validation_failed for unknown chain, got %v", err)
	}
}

func TestAskObligationUsesFromNetworkAndBase(t *testing.T) {
	order := types.Order{
		Side:        types.SideAsk,
		Quantity:    decimal.RequireFromString("5"),
		Price:       decimal.RequireFromString("100"),
		Base:        "BTC",
		FromNetwork: "hedera",
	}
	chainKey, token, required := obligation(order)
	if chainKey != "hedera" || token != "BTC" || !required.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("unexpected obligation: chain=%s token=%s required=%s", chainKey, token, required)
	}
}

func TestFallbackDecimalsUsesTable(t *testing.T) {
	v := New(registry.New(), fakeEscrow{}, noClients{}, nil)
	if d := v.fallbackDecimals("USDT"); d != 6 {
		t.Fatalf("expected USDT fallback 6, got %d", d)
	}
	if d := v.fallbackDecimals("UNKNOWN"); d != defaultDecimals {
		t.Fatalf("expected default decimals for unknown symbol, got %d", d)
	}
}
