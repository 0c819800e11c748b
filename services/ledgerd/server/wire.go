package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"xficredit/crypto"
	"xficredit/native/credit"
	"xficredit/native/lending"
	"xficredit/native/yield"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body required")
		}
		return badRequest("decode body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, badRequest("%s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, badRequest("%s must be a base-10 integer", field)
	}
	return value, nil
}

func parseUint(field, raw string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, badRequest("%s must be an unsigned integer", field)
	}
	return value, nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type depositRequest struct {
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	LockDuration uint64 `json:"lockDuration"`
}

type withdrawRequest struct {
	PrincipalOnly bool `json:"principalOnly"`
}

type tokenAmountRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type yieldParamsRequest struct {
	RateBps     uint64 `json:"rateBps"`
	MinDuration uint64 `json:"minDuration"`
	MaxDuration uint64 `json:"maxDuration"`
}

type recipientRequest struct {
	To string `json:"to"`
}

type borrowRequest struct {
	CollateralToken    string `json:"collateralToken"`
	CollateralAmount   string `json:"collateralAmount"`
	BorrowToken        string `json:"borrowToken"`
	BorrowAmount       string `json:"borrowAmount"`
	Duration           uint64 `json:"duration"`
	DestinationChainID uint64 `json:"destinationChainId"`
}

type repayRequest struct {
	DestinationChainID uint64 `json:"destinationChainId"`
}

type liquidateRequest struct {
	User   string `json:"user"`
	LoanID uint64 `json:"loanId"`
}

type batchLiquidateRequest struct {
	Users   []string `json:"users"`
	LoanIDs []uint64 `json:"loanIds"`
}

type scoreRequest struct {
	Score uint32 `json:"score"`
}

type allowedRequest struct {
	Allowed bool `json:"allowed"`
}

type lendingParamRequest struct {
	Param string `json:"param"`
	Token string `json:"token,omitempty"`
	Value string `json:"value"`
}

type treasuryWithdrawRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

type positionView struct {
	ID           uint64 `json:"id"`
	Owner        string `json:"owner"`
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	StartTime    int64  `json:"startTime"`
	LockDuration uint64 `json:"lockDuration"`
	MaturesAt    int64  `json:"maturesAt"`
	Withdrawn    bool   `json:"withdrawn"`
	ClosedAt     int64  `json:"closedAt,omitempty"`
}

func toPositionView(p *yield.Position) positionView {
	return positionView{
		ID:           p.ID,
		Owner:        p.Owner.String(),
		Token:        p.Token,
		Amount:       amountString(p.Amount),
		StartTime:    p.StartTime,
		LockDuration: p.LockDuration,
		MaturesAt:    p.MaturesAt(),
		Withdrawn:    p.Withdrawn,
		ClosedAt:     p.ClosedAt,
	}
}

type loanView struct {
	ID               uint64 `json:"loanId"`
	User             string `json:"user"`
	CollateralToken  string `json:"collateralToken"`
	CollateralAmount string `json:"collateralAmount"`
	BorrowToken      string `json:"borrowToken"`
	BorrowAmount     string `json:"borrowAmount"`
	Duration         uint64 `json:"duration"`
	StartTime        int64  `json:"startTime"`
	DueAt            int64  `json:"dueAt"`
	InterestRateBps  uint32 `json:"interestRateBps"`
	AmountPaid       string `json:"amountPaid"`
	Active           bool   `json:"active"`
	ChainID          uint64 `json:"chainId"`
	Status           string `json:"status"`
	ClosedAt         int64  `json:"closedAt,omitempty"`
}

func toLoanView(l *lending.Loan) loanView {
	return loanView{
		ID:               l.ID,
		User:             l.User.String(),
		CollateralToken:  l.CollateralToken,
		CollateralAmount: amountString(l.CollateralAmount),
		BorrowToken:      l.BorrowToken,
		BorrowAmount:     amountString(l.BorrowAmount),
		Duration:         l.Duration,
		StartTime:        l.StartTime,
		DueAt:            l.DueAt(),
		InterestRateBps:  l.InterestRate,
		AmountPaid:       amountString(l.AmountPaid),
		Active:           l.Active,
		ChainID:          l.ChainID,
		Status:           l.Status.String(),
		ClosedAt:         l.ClosedAt,
	}
}

func toLoanViews(loans []*lending.Loan) []loanView {
	out := make([]loanView, 0, len(loans))
	for _, loan := range loans {
		out = append(out, toLoanView(loan))
	}
	return out
}

type dueView struct {
	Principal    string `json:"principal"`
	Interest     string `json:"interest"`
	Fee          string `json:"fee"`
	Total        string `json:"total"`
	HealthFactor string `json:"healthFactor"`
}

type liquidationView struct {
	LoanID       uint64 `json:"loanId"`
	User         string `json:"user"`
	Token        string `json:"token"`
	ToLiquidator string `json:"toLiquidator"`
	ToTreasury   string `json:"toTreasury"`
	Expired      bool   `json:"expired"`
	HealthFactor string `json:"healthFactor"`
}

func toLiquidationView(l *lending.Liquidation) liquidationView {
	return liquidationView{
		LoanID:       l.LoanID,
		User:         l.User.String(),
		Token:        l.Token,
		ToLiquidator: amountString(l.ToLiquidator),
		ToTreasury:   amountString(l.ToTreasury),
		Expired:      l.Expired,
		HealthFactor: amountString(l.HealthFactor),
	}
}

type skipView struct {
	User   string `json:"user"`
	LoanID uint64 `json:"loanId"`
	Reason string `json:"reason"`
}

type batchView struct {
	Liquidated []liquidationView `json:"liquidated"`
	Skipped    []skipView        `json:"skipped"`
}

type profileView struct {
	User             string `json:"user"`
	Score            uint32 `json:"score"`
	RateBps          uint32 `json:"rateBps"`
	MinHealthFactor  uint64 `json:"minHealthFactor,omitempty"`
	TotalBorrowed    string `json:"totalBorrowed"`
	TotalRepaid      string `json:"totalRepaid"`
	ActiveLoans      uint32 `json:"activeLoans"`
	OnTimeRepayments uint32 `json:"onTimeRepayments"`
	LateRepayments   uint32 `json:"lateRepayments"`
	Liquidations     uint32 `json:"liquidations"`
	LastUpdated      int64  `json:"lastUpdated"`
}

func toProfileView(p *credit.Profile, tier credit.Tier) profileView {
	return profileView{
		User:             p.User.String(),
		Score:            p.Score,
		RateBps:          tier.RateBps,
		MinHealthFactor:  tier.MinHealthFactor,
		TotalBorrowed:    amountString(p.TotalBorrowed),
		TotalRepaid:      amountString(p.TotalRepaid),
		ActiveLoans:      p.ActiveLoans,
		OnTimeRepayments: p.OnTimeRepayments,
		LateRepayments:   p.LateRepayments,
		Liquidations:     p.Liquidations,
		LastUpdated:      p.LastUpdated,
	}
}

func amountMap(in map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(in))
	for token, amount := range in {
		out[token] = amountString(amount)
	}
	return out
}
