package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zuohao/fund_dashboard/internal/domain"
	"github.com/zuohao/fund_dashboard/internal/usecase"
)

// userIDHeader is set by the authentication layer in front of this server.
const userIDHeader = "X-User-ID"

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrDeadlinePassed):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, apiResponse{Success: false, Message: userMessage(err)})
}

// userMessage strips the sentinel prefix, leaving the human-readable part.
func userMessage(err error) string {
	for _, kind := range []error{domain.ErrInvalidArgument, domain.ErrNotFound, domain.ErrDeadlinePassed} {
		if errors.Is(err, kind) {
			msg := err.Error()
			prefix := kind.Error() + ": "
			if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
				return msg[len(prefix):]
			}
		}
	}
	return err.Error()
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(userIDHeader), 10, 64)
	if err != nil || id <= 0 {
		s.writeJSON(w, http.StatusUnauthorized, apiResponse{Success: false, Message: "未登录"})
		return 0, false
	}
	return id, true
}

// Tracked funds

func (s *Server) handleListFunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	holdings, err := s.funds.ListFunds(r.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to list funds", zap.Error(err))
		s.writeError(w, err)
		return
	}

	type fundView struct {
		FundCode    string  `json:"fund_code"`
		FundName    string  `json:"fund_name"`
		UnitsHeld   float64 `json:"units_held"`
		CostPerUnit float64 `json:"cost_per_unit"`
		Shares      float64 `json:"shares"`
	}
	views := make([]fundView, 0, len(holdings))
	for _, h := range holdings {
		views = append(views, fundView{
			FundCode:    h.FundCode,
			FundName:    h.FundName,
			UnitsHeld:   h.UnitsHeld,
			CostPerUnit: h.CostPerUnit,
			Shares:      h.Shares,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "funds": views})
}

func (s *Server) handleAddFund(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Code     string `json:"code"`
		FundName string `json:"fund_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "请求格式错误"})
		return
	}
	if err := s.funds.TrackFund(r.Context(), userID, req.Code, req.FundName); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "已添加基金"})
}

func (s *Server) handleRemoveFund(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.funds.UntrackFund(r.Context(), userID, r.PathValue("code")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "已删除基金"})
}

// Holdings

func (s *Server) handleUpdateHolding(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Code        string   `json:"code"`
		FundName    string   `json:"fund_name"`
		Op          string   `json:"record_op"`
		UnitsHeld   *float64 `json:"units_held"`
		CostPerUnit *float64 `json:"cost_per_unit"`
		Amount      *float64 `json:"amount"`
		TradeDate   string   `json:"trade_date"`
		Period      string   `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "请求格式错误"})
		return
	}
	if req.Code == "" {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "请提供基金代码"})
		return
	}
	if req.UnitsHeld == nil || req.CostPerUnit == nil {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "持有份额或持仓成本格式错误"})
		return
	}
	// Amount positivity is a boundary rule; the ledger records what it is
	// handed.
	if req.Amount == nil || *req.Amount <= 0 {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "金额必须大于0"})
		return
	}
	if req.TradeDate == "" {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "请提供交易日期"})
		return
	}

	result, err := s.ledger.ApplyOperation(r.Context(), usecase.ApplyOperationRequest{
		UserID:      userID,
		FundCode:    req.Code,
		FundName:    req.FundName,
		Op:          domain.Op(req.Op),
		UnitsHeld:   *req.UnitsHeld,
		CostPerUnit: *req.CostPerUnit,
		Amount:      *req.Amount,
		TradeDate:   req.TradeDate,
		Period:      req.Period,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Broadcast(PositionEvent{
		Type:        "apply",
		UserID:      userID,
		FundCode:    req.Code,
		UnitsHeld:   result.UnitsHeld,
		CostPerUnit: result.CostPerUnit,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "已更新持仓金额",
		"units_held":    result.UnitsHeld,
		"cost_per_unit": result.CostPerUnit,
		"shares":        result.PositionValue,
	})
}

// Position records

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	records, err := s.ledger.ListRecords(r.Context(), userID)
	if err != nil {
		s.logger.Error("Failed to list position records", zap.Error(err))
		s.writeError(w, err)
		return
	}

	type recordView struct {
		ID              int64     `json:"id"`
		FundCode        string    `json:"fund_code"`
		FundName        string    `json:"fund_name"`
		Op              string    `json:"op"`
		Amount          float64   `json:"amount"`
		TradeDate       string    `json:"trade_date"`
		Period          string    `json:"period"`
		PrevUnitsHeld   float64   `json:"prev_units_held"`
		PrevCostPerUnit float64   `json:"prev_cost_per_unit"`
		NewUnitsHeld    float64   `json:"new_units_held"`
		NewCostPerUnit  float64   `json:"new_cost_per_unit"`
		CreatedAt       time.Time `json:"created_at"`
		CanUndo         bool      `json:"can_undo"`
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			ID:              rec.ID,
			FundCode:        rec.FundCode,
			FundName:        rec.FundName,
			Op:              string(rec.Op),
			Amount:          rec.Amount,
			TradeDate:       rec.TradeDate,
			Period:          rec.Period,
			PrevUnitsHeld:   rec.PrevUnitsHeld,
			PrevCostPerUnit: rec.PrevCostPerUnit,
			NewUnitsHeld:    rec.NewUnitsHeld,
			NewCostPerUnit:  rec.NewCostPerUnit,
			CreatedAt:       rec.CreatedAt,
			CanUndo:         rec.CanUndo,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": views})
}

func (s *Server) handleUndoRecord(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	recordID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "记录ID格式错误"})
		return
	}

	result, err := s.ledger.Undo(r.Context(), userID, recordID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Broadcast(PositionEvent{
		Type:        "undo",
		UserID:      userID,
		FundCode:    result.FundCode,
		UnitsHeld:   result.UnitsHeld,
		CostPerUnit: result.CostPerUnit,
	})
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: result.Message})
}

// Dashboard push

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	s.hub.register <- conn

	// Reader loop only detects close; clients never send payloads.
	go func() {
		defer func() { s.hub.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
