package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"xficredit/native/yield"
)

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "deposit", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "deposit", err)
		return
	}
	id, err := s.ledgers.Yield.Deposit(r.Context(), caller, req.Token, amount, req.LockDuration)
	if err != nil {
		s.fail(w, r, "deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"positionId": id})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "withdraw", err)
		return
	}
	var req withdrawRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, r, "withdraw", err)
			return
		}
	}
	if req.PrincipalOnly {
		err = s.ledgers.Yield.WithdrawPrincipalOnly(r.Context(), id, caller)
	} else {
		err = s.ledgers.Yield.Withdraw(r.Context(), id, caller)
	}
	if err != nil {
		s.fail(w, r, "withdraw", err)
		return
	}
	s.writePosition(w, r, id)
}

func (s *Server) unstake(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "unstake", err)
		return
	}
	if err := s.ledgers.Yield.Unstake(r.Context(), id, caller); err != nil {
		s.fail(w, r, "unstake", err)
		return
	}
	s.writePosition(w, r, id)
}

func (s *Server) writePosition(w http.ResponseWriter, r *http.Request, id uint64) {
	pos, err := s.ledgers.Yield.PositionByID(id)
	if err != nil {
		s.fail(w, r, "position", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionView(pos))
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	amount, err := s.ledgers.Yield.ClaimWithdrawal(r.Context(), chi.URLParam(r, "token"), caller)
	if err != nil {
		s.fail(w, r, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amountString(amount)})
}

func (s *Server) addReserves(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req tokenAmountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "add_reserves", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "add_reserves", err)
		return
	}
	if err := s.ledgers.Yield.AddYieldReserves(r.Context(), caller, req.Token, amount); err != nil {
		s.fail(w, r, "add_reserves", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reserve": amountString(s.ledgers.Yield.Reserve(req.Token))})
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	var positions []*yield.Position
	if raw := strings.TrimSpace(r.URL.Query().Get("owner")); raw != "" {
		owner, err := parseAddress("owner", raw)
		if err != nil {
			s.fail(w, r, "list_positions", err)
			return
		}
		positions = s.ledgers.Yield.Positions(owner)
	} else {
		positions = s.ledgers.Yield.ActivePositions()
	}
	out := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		out = append(out, toPositionView(pos))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": out})
}

func (s *Server) yieldStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.ledgers.Yield.Stats()
	body := map[string]interface{}{
		"totalStakers":  stats.TotalStakers,
		"activeStakers": stats.ActiveStakers,
		"valueLocked":   amountMap(stats.ValueLocked),
		"reserves":      amountMap(stats.Reserves),
		"rateBps":       stats.Params.RateBps,
		"minDuration":   stats.Params.MinDuration,
		"maxDuration":   stats.Params.MaxDuration,
		"penaltyBps":    stats.Params.PenaltyBps,
	}
	if stats.EmergencyAt != 0 {
		body["emergencyInitiatedAt"] = stats.EmergencyAt
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) updateYieldParams(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req yieldParamsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "update_yield_params", err)
		return
	}
	if err := s.ledgers.Yield.UpdateYieldParameters(caller, req.RateBps, req.MinDuration, req.MaxDuration); err != nil {
		s.fail(w, r, "update_yield_params", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) initiateEmergency(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	at, err := s.ledgers.Yield.InitiateEmergencyWithdrawal(caller)
	if err != nil {
		s.fail(w, r, "initiate_emergency", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"initiatedAt": at})
}

func (s *Server) cancelEmergency(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.ledgers.Yield.CancelEmergencyWithdrawal(caller); err != nil {
		s.fail(w, r, "cancel_emergency", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) executeEmergency(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req recipientRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "execute_emergency", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, "execute_emergency", err)
		return
	}
	amount, err := s.ledgers.Yield.ExecuteEmergencyWithdrawal(r.Context(), caller, chi.URLParam(r, "token"), to)
	if err != nil {
		s.fail(w, r, "execute_emergency", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amountString(amount)})
}
