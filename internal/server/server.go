// Package server exposes the ledger engines over HTTP. Business
// failures map onto status codes; their reasons pass through verbatim.
package server

import (
	"encoding/json"
	"net/http"

	"city_go/internal/bounty"
	"city_go/internal/city"
	"city_go/internal/domain"
	"city_go/internal/economy"
	"city_go/internal/market"
)

// Server is the main HTTP server for the city API.
type Server struct {
	economy   *economy.Economy
	market    *market.Engine
	bounty    *bounty.Engine
	city      *city.Service
	cityName  string
	wsHandler http.HandlerFunc
	mux       *http.ServeMux
}

// New creates a new Server with all routes registered.
func New(eco *economy.Economy, mkt *market.Engine, bty *bounty.Engine, cty *city.Service, cityName string, wsHandler http.HandlerFunc) *Server {
	s := &Server{
		economy:   eco,
		market:    mkt,
		bounty:    bty,
		city:      cty,
		cityName:  cityName,
		wsHandler: wsHandler,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health & metrics
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	// Accounts
	s.mux.HandleFunc("GET /api/agents/{id}/balance", s.handleGetBalance)
	s.mux.HandleFunc("GET /api/agents/{id}/resources", s.handleGetResources)
	s.mux.HandleFunc("POST /api/agents/{id}/eat", s.handleEat)
	s.mux.HandleFunc("GET /api/agents/{id}/quota", s.handleCheckQuota)
	s.mux.HandleFunc("POST /api/agents/{id}/quota/deduct", s.handleDeductQuota)

	// Transfers
	s.mux.HandleFunc("POST /api/transfers", s.handleTransfer)
	s.mux.HandleFunc("POST /api/credits/transfer", s.handleTransferCredits)

	// Market
	s.mux.HandleFunc("POST /api/orders", s.handleCreateOrder)
	s.mux.HandleFunc("GET /api/orders", s.handleListOrders)
	s.mux.HandleFunc("POST /api/orders/{id}/accept", s.handleAcceptOrder)
	s.mux.HandleFunc("POST /api/orders/{id}/cancel", s.handleCancelOrder)
	s.mux.HandleFunc("GET /api/trades", s.handleTradeLogs)

	// Bounties
	s.mux.HandleFunc("POST /api/bounties", s.handleCreateBounty)
	s.mux.HandleFunc("GET /api/bounties", s.handleListBounties)
	s.mux.HandleFunc("POST /api/bounties/{id}/claim", s.handleClaimBounty)
	s.mux.HandleFunc("POST /api/bounties/{id}/complete", s.handleCompleteBounty)

	// City
	s.mux.HandleFunc("GET /api/city/overview", s.handleCityOverview)
	s.mux.HandleFunc("GET /api/city/production", s.handleProductionLogs)
	s.mux.HandleFunc("POST /api/city/buildings/{id}/workers", s.handleAssignWorker)
	s.mux.HandleFunc("DELETE /api/city/buildings/{id}/workers/{agentID}", s.handleRemoveWorker)

	// Broadcast
	if s.wsHandler != nil {
		s.mux.HandleFunc("GET /ws", s.wsHandler)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps a ledger error onto a status code and writes it.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": domain.ReasonOf(err)})
}

// statusFor maps business error kinds to HTTP status codes. Anything
// without a kind is an unexpected store failure.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidAmount:
		return http.StatusBadRequest
	case domain.KindNotOwner, domain.KindAlreadyClaimed, domain.KindInvalidState, domain.KindInsufficient:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
