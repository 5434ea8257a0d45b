package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"city_go/internal/infra"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"city":   s.cityName,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infra.GlobalMetrics.Snapshot())
}

// =====================================================
// Accounts
// =====================================================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bal, err := s.economy.GetBalance(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleGetResources(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	resources, err := s.city.Resources(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

func (s *Server) handleEat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	vitals, err := s.city.EatFood(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vitals)
}

func (s *Server) handleCheckQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	decision, err := s.economy.CheckQuota(id, r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleDeductQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	deducted, err := s.economy.DeductQuota(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deducted": deducted})
}

// =====================================================
// Transfers
// =====================================================

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromAgentID  int64           `json:"from_agent_id"`
		ToAgentID    int64           `json:"to_agent_id"`
		ResourceType string          `json:"resource_type"`
		Amount       decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.city.Transfer(req.FromAgentID, req.ToAgentID, req.ResourceType, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTransferCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromAgentID int64 `json:"from_agent_id"`
		ToAgentID   int64 `json:"to_agent_id"`
		Amount      int64 `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.economy.TransferCredits(req.FromAgentID, req.ToAgentID, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// =====================================================
// Market
// =====================================================

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SellerID   int64           `json:"seller_id"`
		SellType   string          `json:"sell_type"`
		SellAmount decimal.Decimal `json:"sell_amount"`
		BuyType    string          `json:"buy_type"`
		BuyAmount  decimal.Decimal `json:"buy_amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := s.market.CreateOrder(req.SellerID, req.SellType, req.SellAmount, req.BuyType, req.BuyAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var statuses []string
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	orders, err := s.market.ListOrders(statuses)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		BuyerID int64           `json:"buyer_id"`
		Ratio   decimal.Decimal `json:"ratio"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Ratio.IsZero() {
		req.Ratio = decimal.NewFromInt(1)
	}
	fill, err := s.market.AcceptOrder(req.BuyerID, id, req.Ratio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		SellerID int64 `json:"seller_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.market.CancelOrder(req.SellerID, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTradeLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	logs, err := s.market.TradeLogs(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// =====================================================
// Bounties
// =====================================================

func (s *Server) handleCreateBounty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Reward      int64  `json:"reward"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := s.bounty.Create(req.Title, req.Description, req.Reward)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBounties(w http.ResponseWriter, r *http.Request) {
	bounties, err := s.bounty.List(
		r.URL.Query().Get("status"),
		queryInt(r, "limit", 20),
		queryInt(r, "offset", 0),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bounties)
}

func (s *Server) handleClaimBounty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		AgentID int64 `json:"agent_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := s.bounty.Claim(req.AgentID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCompleteBounty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		AgentID int64 `json:"agent_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := s.bounty.Complete(req.AgentID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// =====================================================
// City
// =====================================================

func (s *Server) handleCityOverview(w http.ResponseWriter, r *http.Request) {
	views, err := s.city.Overview(s.cityName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"city":      s.cityName,
		"buildings": views,
	})
}

func (s *Server) handleProductionLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.city.ProductionLogs(s.cityName, queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleAssignWorker(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		AgentID int64 `json:"agent_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.city.AssignWorker(s.cityName, id, req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	agentID, ok := pathID(w, r, "agentID")
	if !ok {
		return
	}
	if err := s.city.RemoveWorker(id, agentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// =====================================================
// Helpers
// =====================================================

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
