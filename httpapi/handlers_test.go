package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ledgerbridge/crossbook/activity"
	"github.com/ledgerbridge/crossbook/chain"
	"github.com/ledgerbridge/crossbook/config"
	"github.com/ledgerbridge/crossbook/engine"
	"github.com/ledgerbridge/crossbook/registry"
	"github.com/ledgerbridge/crossbook/settlement"
	"github.com/ledgerbridge/crossbook/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New()
	reg.RegisterChain(types.ChainConfig{
		Key: "polygon", ChainID: 137, ContractAddress: "0xcontract",
		Tokens: map[string]string{"BTC": "0xbase", "USDT": "0xquote"},
	})

	ledger, err := settlement.NewLedger(":memory:")
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	eng := engine.New(engine.Deps{
		Config:   &config.Config{},
		Registry: reg,
		Clients:  map[string]*chain.Client{},
		Ledger:   ledger,
	})
	return NewServer(eng)
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestOrderbookReturnsEmptyBookForUnseenSymbol(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/orderbook", orderbookRequest{Symbol: "BTC_USDT"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp orderbookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != 1 {
		t.Fatalf("expected status_code=1, got %+v", resp)
	}
	if len(resp.Bids) != 0 || len(resp.Asks) != 0 {
		t.Fatalf("expected empty book, got %+v", resp)
	}
}

func TestNetworksReflectsRegistry(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/networks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp networksResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	info, ok := resp.Networks["polygon"]
	if !ok {
		t.Fatalf("expected polygon in networks, got %+v", resp.Networks)
	}
	if info.ContractAddress != "0xcontract" {
		t.Fatalf("expected contract address carried through, got %+v", info)
	}
}

func TestSettlementAddressReturnsConfiguredAddress(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/get_settlement_address", nil)
	var resp settlementAddressResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.SettlementAddress != "0xcontract" {
		t.Fatalf("expected 0xcontract, got %q", resp.Data.SettlementAddress)
	}
}

// register_order against a chain with no configured RPC client fails
// closed at the validator and is surfaced as a 400 transport error, not a
// silently-accepted order.
func TestRegisterOrderFailsClosedWithoutChainClient(t *testing.T) {
	s := newTestServer(t)
	req := orderRequest{
		Account: "0xabc", BaseAsset: "BTC", QuoteAsset: "USDT",
		Price: "100", Quantity: "1", Side: "ask", Type: "limit",
		FromNetwork: "polygon", ToNetwork: "polygon",
	}
	w := doRequest(s, http.MethodPost, "/register_order", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 (validation_failed maps to 400), got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterOrderRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/register_order", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestCancelOrderOnUnknownOrderReportsFailureEnvelope(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/cancel_order", cancelOrderRequest{
		OrderID: 999, Side: "ask", BaseAsset: "BTC", QuoteAsset: "USDT",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 (application-level failure, not transport), got %d", w.Code)
	}
	var resp cancelOrderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != 0 {
		t.Fatalf("expected status_code=0 for an unknown order, got %+v", resp)
	}
}

func TestOrderHistoryWithNoActivityLogReturnsEmpty(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/order_history?symbol=BTC_USDT&limit=10", nil)
	var resp orderHistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.History) != 0 {
		t.Fatalf("expected no history without an activity log, got %+v", resp.History)
	}
}

// order_history and trades must read the activity log's JSONL file, not
// its in-memory ring: a Log reopened over an existing file starts with an
// empty ring, so any records the endpoints return here can only have come
// from disk.
func TestOrderHistoryAndTradesReadFromFileAfterReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.jsonl")

	seed, err := activity.Open(path, 10)
	if err != nil {
		t.Fatalf("activity.Open: %v", err)
	}
	seed.Record(types.ActivityRecord{Kind: types.ActivityOrderPlaced, Symbol: "BTC_USDT", OrderID: 1})
	seed.Record(types.ActivityRecord{Kind: types.ActivityTradeExecuted, Symbol: "BTC_USDT", OrderID: 2})
	seed.Record(types.ActivityRecord{Kind: types.ActivityOrderPlaced, Symbol: "ETH_USDT", OrderID: 3})
	if err := seed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := activity.Open(path, 10)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	reg := registry.New()
	ledger, err := settlement.NewLedger(":memory:")
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	eng := engine.New(engine.Deps{
		Config:      &config.Config{},
		Registry:    reg,
		Clients:     map[string]*chain.Client{},
		Ledger:      ledger,
		ActivityLog: reopened,
	})
	s := NewServer(eng)

	w := doRequest(s, http.MethodGet, "/order_history?symbol=BTC_USDT&limit=10", nil)
	var hresp orderHistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &hresp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hresp.History) != 2 {
		t.Fatalf("expected 2 BTC_USDT history records read from file, got %+v", hresp.History)
	}

	w2 := doRequest(s, http.MethodPost, "/trades", tradesRequest{Symbol: "BTC_USDT", Limit: 10})
	var tresp tradesResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &tresp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tresp.Trades) != 1 {
		t.Fatalf("expected 1 trade_executed record read from file, got %+v", tresp.Trades)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
