package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ledgerbridge/crossbook/apperr"
	"github.com/ledgerbridge/crossbook/book"
	"github.com/ledgerbridge/crossbook/types"
)

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusFor maps an error to the HTTP transport status via apperr's
// taxonomy, falling back to 500 for unclassified errors.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return apperr.HTTPStatus(apperr.KindOf(err))
}

func (s *Server) handleRegisterOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	order, err := req.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price or quantity: "+err.Error())
		return
	}

	result, err := s.eng.RegisterOrder(r.Context(), order)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	if !result.Valid {
		details := result.ValidationDetails
		respondJSON(w, http.StatusOK, registerOrderResponse{
			envelope:          fail(joinErrors(result.Errors)),
			ValidationDetails: &details,
		})
		return
	}

	respondJSON(w, http.StatusOK, registerOrderResponse{
		envelope:          ok(),
		Order:             result.Order,
		NextBest:          result.NextBest,
		ValidationDetails: &result.ValidationDetails,
		SettlementInfo:    result.SettlementInfo,
	})
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "validation failed"
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	symbol := req.BaseAsset + "_" + req.QuoteAsset

	order, err := s.eng.CancelOrder(r.Context(), symbol, types.Side(req.Side), req.OrderID)
	if err != nil {
		respondJSON(w, http.StatusOK, cancelOrderResponse{envelope: fail(err.Error())})
		return
	}
	respondJSON(w, http.StatusOK, cancelOrderResponse{
		envelope: ok(),
		Order:    orderResponseView(order),
	})
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	var req orderbookRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	bids, asks := s.eng.Orderbook(req.Symbol)
	respondJSON(w, http.StatusOK, orderbookResponse{
		envelope: ok(),
		Symbol:   req.Symbol,
		Bids:     levelViews(bids),
		Asks:     levelViews(asks),
	})
}

func levelViews(levels []book.LevelSnapshot) []levelView {
	out := make([]levelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelView{Price: l.Price.String(), Quantity: l.Quantity.String(), Orders: l.Orders})
	}
	return out
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	var req tradesRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	trades, err := s.eng.Trades(req.Symbol, req.Limit)
	if err != nil {
		respondJSON(w, http.StatusOK, tradesResponse{envelope: fail(err.Error())})
		return
	}
	respondJSON(w, http.StatusOK, tradesResponse{envelope: ok(), Trades: trades})
}

func (s *Server) handleSettlementAddress(w http.ResponseWriter, r *http.Request) {
	resp := settlementAddressResponse{}
	resp.Data.SettlementAddress = s.eng.SettlementAddress()
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, networksResponse{Networks: s.eng.Networks()})
}

func (s *Server) handleSettleTrades(w http.ResponseWriter, r *http.Request) {
	var req settleTradesRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order: "+err.Error())
		return
	}
	symbol := order.Base + "_" + order.Quote

	trades := make([]types.Trade, 0, len(req.Trades))
	for _, t := range req.Trades {
		trade, err := t.toTrade(symbol)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid trade: "+err.Error())
			return
		}
		trades = append(trades, trade)
	}

	info := s.eng.SettleTrades(r.Context(), order.OrderID, trades)
	respondJSON(w, http.StatusOK, settleTradesResponse{envelope: ok(), SettlementInfo: info})
}

func (s *Server) handleSettlementHealth(w http.ResponseWriter, r *http.Request) {
	h := s.eng.SettlementHealth(r.Context())
	respondJSON(w, http.StatusOK, settlementHealthResponse{
		Status:          h.Status,
		Web3Connected:   h.WebConnected,
		Message:         h.Message,
		ContractAddress: h.ContractAddress,
	})
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	limit := 0
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	history, err := s.eng.OrderHistory(symbol, limit)
	if err != nil {
		respondJSON(w, http.StatusOK, orderHistoryResponse{envelope: fail(err.Error())})
		return
	}
	respondJSON(w, http.StatusOK, orderHistoryResponse{envelope: ok(), History: history})
}

// handleAttachSignature and handleFaucet back two supplemental routes
// that round out the client-signature and test-faucet flows; neither is
// part of the original's core endpoint set.

func (s *Server) handleAttachSignature(w http.ResponseWriter, r *http.Request) {
	var req attachSignatureRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	info, err := s.eng.AttachSignature(r.Context(), req.OrderID, req.Account, req.Signature)
	if err != nil {
		respondJSON(w, http.StatusOK, attachSignatureResponse{envelope: fail(err.Error())})
		return
	}
	respondJSON(w, http.StatusOK, attachSignatureResponse{envelope: ok(), SettlementInfo: info})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	receipt, err := s.eng.Faucet(r.Context(), req.To, req.Asset, req.Network, amount)
	if err != nil {
		respondJSON(w, http.StatusOK, faucetResponse{envelope: fail(err.Error())})
		return
	}
	respondJSON(w, http.StatusOK, faucetResponse{envelope: ok(), TxHash: receipt.TxHash})
}
