package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/uhyunpark/otcswap/pkg/escrow"
	"github.com/uhyunpark/otcswap/pkg/reputation"
)

// Server exposes read-only REST queries over the escrow engine and a
// WebSocket feed of fill lifecycle events. Mutating operations go through
// the host ledger's transaction path, not HTTP.
type Server struct {
	engine *escrow.Engine
	rep    *reputation.Book
	router *mux.Router
	hub    *Hub
}

func NewServer(engine *escrow.Engine, rep *reputation.Book) *Server {
	s := &Server{
		engine: engine,
		rep:    rep,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order and handshake queries
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/makers/{address}/orders", s.handleGetMakerOrders).Methods("GET")
	api.HandleFunc("/makers/{address}/handshakes", s.handleGetMakerHandshakes).Methods("GET")
	api.HandleFunc("/makers/{address}/handshakes/{key}", s.handleGetHandshake).Methods("GET")

	// Account queries
	api.HandleFunc("/accounts/{address}/reputation", s.handleGetReputation).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{coin}", s.handleGetBalance).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub, bridges the engine's event feed onto the
// "fills" and "orders" channels, and serves HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	go s.pumpEvents()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) pumpEvents() {
	for ev := range s.engine.Feed().Subscribe() {
		switch ev.Type {
		case escrow.EventOrderCreated, escrow.EventOrderDestroyed:
			s.hub.BroadcastToChannel("orders", ev)
		default:
			s.hub.BroadcastToChannel("fills", ev)
		}
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := escrow.OrderID(mux.Vars(r)["id"])

	order, err := s.engine.GetOrder(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}
	respondJSON(w, orderInfo(order))
}

func (s *Server) handleGetMakerOrders(w http.ResponseWriter, r *http.Request) {
	maker, ok := parseAddress(w, r)
	if !ok {
		return
	}

	orders := s.engine.OrdersByMaker(maker)
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMakerHandshakes(w http.ResponseWriter, r *http.Request) {
	maker, ok := parseAddress(w, r)
	if !ok {
		return
	}

	hss := s.engine.HandshakesByMaker(maker)
	response := make([]HandshakeInfo, len(hss))
	for i, hs := range hss {
		response[i] = handshakeInfo(hs)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetHandshake(w http.ResponseWriter, r *http.Request) {
	maker, ok := parseAddress(w, r)
	if !ok {
		return
	}
	key := mux.Vars(r)["key"]

	hs, err := s.engine.GetHandshake(maker, key)
	if err != nil {
		respondError(w, http.StatusNotFound, "handshake not found", err.Error())
		return
	}
	respondJSON(w, handshakeInfo(hs))
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}

	stats := s.rep.Get(addr)
	respondJSON(w, ReputationInfo{
		Address:             addr.Hex(),
		SuccessfulTrades:    stats.SuccessfulTrades,
		FailedTrades:        stats.FailedTrades,
		DisputesWon:         stats.DisputesWon,
		DisputesLost:        stats.DisputesLost,
		TotalFiatVolume:     stats.TotalFiatVolume,
		TotalCoinVolume:     stats.TotalCoinVolume,
		AvgReleaseLatencyMs: stats.AvgReleaseLatencyMs(),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r)
	if !ok {
		return
	}
	coin := mux.Vars(r)["coin"]

	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Coin:    coin,
		Amount:  s.engine.Balance(addr, coin),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o escrow.Order) OrderInfo {
	return OrderInfo{
		ID:             string(o.ID),
		Maker:          o.Maker.Hex(),
		Coin:           o.Coin,
		IsBuy:          o.IsBuy,
		MinFill:        o.MinFill,
		MaxFill:        o.MaxFill,
		FiatAmount:     o.FiatAmount,
		FiatCode:       o.FiatCode,
		CoinAmount:     o.CoinAmount,
		FillDeadlineMs: o.FillDeadlineMs,
		CoinBalance:    o.CoinBalance.Amount(),
		PendingFill:    o.PendingFill,
		CompletedFill:  o.CompletedFill,
		CreatedAt:      o.CreatedAt,
	}
}

func handshakeInfo(hs escrow.Handshake) HandshakeInfo {
	fiat := make([]string, len(hs.FiatSenders))
	for i, a := range hs.FiatSenders {
		fiat[i] = a.Hex()
	}
	coin := make([]string, len(hs.CoinSenders))
	for i, a := range hs.CoinSenders {
		coin[i] = a.Hex()
	}
	return HandshakeInfo{
		Key:               hs.Key,
		Maker:             hs.Maker.Hex(),
		OrderID:           string(hs.OrderID),
		Status:            hs.Status.String(),
		FiatSenders:       fiat,
		CoinSenders:       coin,
		FiatAmount:        hs.FiatAmount,
		CoinAmount:        hs.CoinAmount,
		PaymentDeadlineMs: hs.PaymentDeadlineMs,
		RequestedAt:       hs.RequestedAt,
	}
}

func parseAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addrHex := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrHex) {
		respondError(w, http.StatusBadRequest, "invalid address", addrHex)
		return common.Address{}, false
	}
	return common.HexToAddress(addrHex), true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Details: details})
}
