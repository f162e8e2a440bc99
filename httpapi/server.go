// Package httpapi is the thin HTTP transport in front of engine.Engine: JSON
// in, JSON out, no business logic. Grounded on pkg/api/server.go's
// Server{app, router} shape and its respondJSON/respondError helpers,
// generalized from its perp exchange routes to the exchange's nine core
// endpoints plus the supplemented attach_signature and faucet routes.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/ledgerbridge/crossbook/engine"
)

// Server owns the router and the single Engine every handler calls into.
type Server struct {
	eng    *engine.Engine
	router *mux.Router
}

// NewServer builds the router and registers every route.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{eng: eng, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/register_order", s.handleRegisterOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/cancel_order", s.handleCancelOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/orderbook", s.handleOrderbook).Methods(http.MethodPost)
	s.router.HandleFunc("/trades", s.handleTrades).Methods(http.MethodPost)
	s.router.HandleFunc("/get_settlement_address", s.handleSettlementAddress).Methods(http.MethodGet)
	s.router.HandleFunc("/networks", s.handleNetworks).Methods(http.MethodGet)
	s.router.HandleFunc("/settle_trades", s.handleSettleTrades).Methods(http.MethodPost)
	s.router.HandleFunc("/settlement_health", s.handleSettlementHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/order_history", s.handleOrderHistory).Methods(http.MethodGet)

	// Supplemental routes rounding out flows original_source/ supports but
	// the core endpoint table above does not name.
	s.router.HandleFunc("/attach_signature", s.handleAttachSignature).Methods(http.MethodPost)
	s.router.HandleFunc("/faucet", s.handleFaucet).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Start runs the HTTP server on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("httpapi: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("httpapi: failed to encode response")
	}
}

// envelope carries the status_code convention most handlers reply with:
// 1 = application success, 0 = application failure. The networks,
// settlement-address and health handlers reply without it. Most
// application failures still return HTTP 200; malformed request bodies and
// validation failures return 400, and internal errors 500.
type envelope struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
}

func ok() envelope   { return envelope{StatusCode: 1} }
func fail(msg string) envelope { return envelope{StatusCode: 0, Error: msg} }

// respondError writes a transport-level error: malformed request bodies and
// internal failures get an HTTP status outside 2xx; application-level
// failures (invalid order, insufficient escrow) still report via the
// status_code envelope at HTTP 200, matching the original API's behavior of
// never failing the HTTP request itself for a rejected order.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, fail(msg))
}
