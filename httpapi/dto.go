package httpapi

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/engine"
	"github.com/ledgerbridge/crossbook/types"
)

// orderRequest is the wire shape register_order accepts.
type orderRequest struct {
	Account       string `json:"account"`
	BaseAsset     string `json:"baseAsset"`
	QuoteAsset    string `json:"quoteAsset"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	FromNetwork   string `json:"from_network"`
	ToNetwork     string `json:"to_network"`
	ReceiveWallet string `json:"receive_wallet"`
	Signature     string `json:"signature,omitempty"`
}

func (req orderRequest) toOrder() (types.Order, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return types.Order{}, err
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return types.Order{}, err
	}
	orderType := types.OrderTypeLimit
	if req.Type == string(types.OrderTypeMarket) {
		orderType = types.OrderTypeMarket
	}
	return types.Order{
		Account:       req.Account,
		Side:          types.Side(req.Side),
		Type:          orderType,
		Price:         price,
		Quantity:      qty,
		Base:          req.BaseAsset,
		Quote:         req.QuoteAsset,
		FromNetwork:   req.FromNetwork,
		ToNetwork:     req.ToNetwork,
		ReceiveWallet: req.ReceiveWallet,
		Signature:     req.Signature,
	}, nil
}

type cancelOrderRequest struct {
	OrderID    int64  `json:"orderId"`
	Side       string `json:"side"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

type orderbookRequest struct {
	Symbol string `json:"symbol"`
}

type tradesRequest struct {
	Symbol string `json:"symbol"`
	Limit  int    `json:"limit"`
}

type settleTradesRequest struct {
	Order  orderRequest   `json:"order"`
	Trades []tradeRequest `json:"trades,omitempty"`
}

type tradeRequest struct {
	Price     string           `json:"price"`
	Quantity  string           `json:"quantity"`
	Timestamp int64            `json:"timestamp"`
	Party1    tradePartyRequest `json:"party1"`
	Party2    tradePartyRequest `json:"party2"`
}

type tradePartyRequest struct {
	Address       string `json:"address"`
	Side          string `json:"side"`
	OrderID       int64  `json:"orderId"`
	Price         string `json:"price"`
	FromNetwork   string `json:"from_network"`
	ToNetwork     string `json:"to_network"`
	ReceiveWallet string `json:"receive_wallet"`
	Signature     string `json:"signature,omitempty"`
}

func (req tradeRequest) toTrade(symbol string) (types.Trade, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return types.Trade{}, err
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return types.Trade{}, err
	}
	p1, err := req.Party1.toParty()
	if err != nil {
		return types.Trade{}, err
	}
	p2, err := req.Party2.toParty()
	if err != nil {
		return types.Trade{}, err
	}
	return types.Trade{
		TradeID:   uuid.New().String(),
		Timestamp: req.Timestamp,
		Symbol:    symbol,
		Price:     price,
		Quantity:  qty,
		Party1:    p1,
		Party2:    p2,
	}, nil
}

func (req tradePartyRequest) toParty() (types.TradeParty, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return types.TradeParty{}, err
	}
	return types.TradeParty{
		Address:       req.Address,
		Side:          types.Side(req.Side),
		OrderID:       req.OrderID,
		Price:         price,
		FromNetwork:   req.FromNetwork,
		ToNetwork:     req.ToNetwork,
		ReceiveWallet: req.ReceiveWallet,
		Signature:     req.Signature,
	}, nil
}

// orderResponseView renders a types.Order (e.g. the one CancelOrder hands
// back) in the same OrderResponse shape RegisterOrder's result carries.
func orderResponseView(o types.Order) engine.OrderResponse {
	return engine.OrderResponse{
		OrderID:    o.OrderID,
		Account:    o.Account,
		Price:      o.Price.String(),
		Quantity:   o.Quantity.String(),
		Side:       o.Side,
		BaseAsset:  o.Base,
		QuoteAsset: o.Quote,
		IsValid:    true,
		Timestamp:  o.Timestamp,
	}
}

type attachSignatureRequest struct {
	OrderID   int64  `json:"orderId"`
	Account   string `json:"account"`
	Signature string `json:"signature"`
}

type faucetRequest struct {
	To      string `json:"to"`
	Asset   string `json:"asset"`
	Network string `json:"network"`
	Amount  string `json:"amount"`
}

// registerOrderResponse is register_order's full envelope: status_code plus
// the placed order, the next resting order on the same side, validation
// detail, and the settlement outcome.
type registerOrderResponse struct {
	envelope
	Order             engine.OrderResponse      `json:"order"`
	NextBest          *engine.OrderResponse     `json:"nextBest,omitempty"`
	ValidationDetails *engine.ValidationDetails `json:"validation_details,omitempty"`
	SettlementInfo    types.SettlementInfo      `json:"settlement_info"`
}

type cancelOrderResponse struct {
	envelope
	Order engine.OrderResponse `json:"order"`
}

type orderbookResponse struct {
	envelope
	Symbol string              `json:"symbol"`
	Bids   []levelView         `json:"bids"`
	Asks   []levelView         `json:"asks"`
}

type levelView struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

type tradesResponse struct {
	envelope
	Trades []types.ActivityRecord `json:"trades"`
}

type settlementAddressResponse struct {
	Data struct {
		SettlementAddress string `json:"settlement_address"`
	} `json:"data"`
}

type networksResponse struct {
	Networks map[string]types.NetworkInfo `json:"networks"`
}

type settleTradesResponse struct {
	envelope
	SettlementInfo types.SettlementInfo `json:"settlement_info"`
}

type settlementHealthResponse struct {
	Status          string `json:"status"`
	Web3Connected   bool   `json:"web3_connected"`
	Message         string `json:"message,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
}

type orderHistoryResponse struct {
	envelope
	History []types.ActivityRecord `json:"history"`
}

type attachSignatureResponse struct {
	envelope
	SettlementInfo types.SettlementInfo `json:"settlement_info"`
}

type faucetResponse struct {
	envelope
	TxHash string `json:"tx_hash,omitempty"`
}
