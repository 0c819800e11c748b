package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"xficredit/crypto"
	"xficredit/native/lending"
)

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "borrow", err)
		return
	}
	collateral, err := parseAmount("collateralAmount", req.CollateralAmount)
	if err != nil {
		s.fail(w, r, "borrow", err)
		return
	}
	borrowed, err := parseAmount("borrowAmount", req.BorrowAmount)
	if err != nil {
		s.fail(w, r, "borrow", err)
		return
	}
	id, err := s.ledgers.Lending.Borrow(r.Context(), lending.BorrowRequest{
		Caller:             caller,
		CollateralToken:    req.CollateralToken,
		CollateralAmount:   collateral,
		BorrowToken:        req.BorrowToken,
		BorrowAmount:       borrowed,
		Duration:           req.Duration,
		DestinationChainID: req.DestinationChainID,
	})
	if err != nil {
		s.fail(w, r, "borrow", err)
		return
	}
	loan, err := s.ledgers.Lending.LoanByID(id)
	if err != nil {
		s.fail(w, r, "borrow", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanView(loan))
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "repay", err)
		return
	}
	var req repayRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, r, "repay", err)
			return
		}
	}
	paid, err := s.ledgers.Lending.PayLoan(r.Context(), caller, id, req.DestinationChainID)
	if err != nil {
		s.fail(w, r, "repay", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": amountString(paid)})
}

func (s *Server) loanDue(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		s.fail(w, r, "loan_due", err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "loan_due", err)
		return
	}
	due, err := s.ledgers.Lending.Due(user, id)
	if err != nil {
		s.fail(w, r, "loan_due", err)
		return
	}
	view := dueView{
		Principal: amountString(due.Principal),
		Interest:  amountString(due.Interest),
		Fee:       amountString(due.Fee),
		Total:     amountString(due.Total),
	}
	// Closed loans have no meaningful health factor.
	if hf, err := s.ledgers.Lending.LoanHealth(r.Context(), user, id); err == nil {
		view.HealthFactor = amountString(hf)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "liquidate", err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, "liquidate", err)
		return
	}
	result, err := s.ledgers.Lending.Liquidate(r.Context(), caller, user, req.LoanID)
	if err != nil {
		s.fail(w, r, "liquidate", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationView(result))
}

func (s *Server) batchLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req batchLiquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "batch_liquidate", err)
		return
	}
	users := make([]crypto.Address, 0, len(req.Users))
	for i, raw := range req.Users {
		user, err := parseAddress("users["+itoa(i)+"]", raw)
		if err != nil {
			s.fail(w, r, "batch_liquidate", err)
			return
		}
		users = append(users, user)
	}
	result, err := s.ledgers.Lending.BatchLiquidate(r.Context(), caller, users, req.LoanIDs)
	if err != nil {
		s.fail(w, r, "batch_liquidate", err)
		return
	}
	view := batchView{Liquidated: make([]liquidationView, 0, len(result.Liquidated)), Skipped: make([]skipView, 0, len(result.Skipped))}
	for _, liq := range result.Liquidated {
		view.Liquidated = append(view.Liquidated, toLiquidationView(liq))
	}
	for _, skip := range result.Skipped {
		view.Skipped = append(view.Skipped, skipView{User: skip.User.String(), LoanID: skip.LoanID, Reason: skip.Reason})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listLoans(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("user"))
	if raw == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"currentLoanId": s.ledgers.Lending.CurrentLoanID(),
			"loans":         toLoanViews(s.ledgers.Lending.ActiveLoans()),
		})
		return
	}
	user, err := parseAddress("user", raw)
	if err != nil {
		s.fail(w, r, "list_loans", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loans": toLoanViews(s.ledgers.Lending.UserLoans(user))})
}

func (s *Server) fundPool(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req tokenAmountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "fund_pool", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "fund_pool", err)
		return
	}
	if err := s.ledgers.Lending.FundPool(r.Context(), caller, req.Token, amount); err != nil {
		s.fail(w, r, "fund_pool", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"liquidity": amountString(s.ledgers.Lending.PoolLiquidity(req.Token))})
}

func (s *Server) listPools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": amountMap(s.ledgers.Lending.Pools())})
}

func (s *Server) creditProfile(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		s.fail(w, r, "credit_profile", err)
		return
	}
	profile := s.ledgers.Credit.Profile(user)
	writeJSON(w, http.StatusOK, toProfileView(profile, s.ledgers.Credit.RateFor(user)))
}

func (s *Server) treasury(w http.ResponseWriter, _ *http.Request) {
	balances := make(map[string]string)
	for _, b := range s.ledgers.Treasury.Balances() {
		balances[b.Token] = amountString(b.Amount)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  s.ledgers.Treasury.Address().String(),
		"balances": balances,
	})
}

func (s *Server) treasuryWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req treasuryWithdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "treasury_withdraw", err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, "treasury_withdraw", err)
		return
	}
	to := caller
	if strings.TrimSpace(req.To) != "" {
		if to, err = parseAddress("to", req.To); err != nil {
			s.fail(w, r, "treasury_withdraw", err)
			return
		}
	}
	if err := s.ledgers.Treasury.Withdraw(r.Context(), caller, req.Token, amount, to); err != nil {
		s.fail(w, r, "treasury_withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"remaining": amountString(s.ledgers.Treasury.Balance(req.Token))})
}
