package events

import (
	"math/big"
	"strconv"

	"xficredit/core/types"
	"xficredit/crypto"
)

const (
	// TypeLoanCreated is emitted when a loan is opened.
	TypeLoanCreated = "lending.loanCreated"
	// TypeCollateralDeposited is emitted when collateral is locked for a loan.
	TypeCollateralDeposited = "lending.collateralDeposited"
	// TypeLoanRepaid is emitted when a loan is fully repaid.
	TypeLoanRepaid = "lending.loanRepaid"
	// TypeLoanLiquidated is emitted when a loan's collateral is seized.
	TypeLoanLiquidated = "lending.loanLiquidated"
	// TypeActiveLoanUpdated reports the borrower's active loan count after a change.
	TypeActiveLoanUpdated = "lending.activeLoanUpdated"
	// TypeProtocolFeeCollected is emitted when a repayment routes a fee to the treasury.
	TypeProtocolFeeCollected = "lending.protocolFeeCollected"
	// TypePoolFunded is emitted when borrowable liquidity is added.
	TypePoolFunded = "lending.poolFunded"
	// TypeLendingParamsUpdated is emitted when an administrative setter changes a parameter.
	TypeLendingParamsUpdated = "lending.paramsUpdated"
)

// LoanCreated captures the terms of a new loan.
type LoanCreated struct {
	LoanID           uint64
	User             crypto.Address
	CollateralToken  string
	CollateralAmount *big.Int
	BorrowToken      string
	BorrowAmount     *big.Int
	Duration         uint64
	InterestRateBps  uint32
	ChainID          uint64
}

// EventType satisfies the Event interface.
func (LoanCreated) EventType() string { return TypeLoanCreated }

// Event converts the structured payload into a broadcastable event.
func (e LoanCreated) Event() *types.Event {
	return &types.Event{Type: TypeLoanCreated, Attributes: map[string]string{
		"loanId":           formatUint(e.LoanID),
		"user":             formatAddress(e.User),
		"collateralToken":  normalizeAsset(e.CollateralToken),
		"collateralAmount": formatAmount(e.CollateralAmount),
		"borrowToken":      normalizeAsset(e.BorrowToken),
		"borrowAmount":     formatAmount(e.BorrowAmount),
		"duration":         formatUint(e.Duration),
		"interestRateBps":  strconv.FormatUint(uint64(e.InterestRateBps), 10),
		"chainId":          formatUint(e.ChainID),
	}}
}

// CollateralDeposited captures collateral locked against a loan.
type CollateralDeposited struct {
	LoanID uint64
	User   crypto.Address
	Token  string
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

// Event converts the structured payload into a broadcastable event.
func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{Type: TypeCollateralDeposited, Attributes: map[string]string{
		"loanId": formatUint(e.LoanID),
		"user":   formatAddress(e.User),
		"token":  normalizeAsset(e.Token),
		"amount": formatAmount(e.Amount),
	}}
}

// LoanRepaid captures a full repayment.
type LoanRepaid struct {
	LoanID  uint64
	User    crypto.Address
	Amount  *big.Int
	OnTime  bool
	ChainID uint64
}

// EventType satisfies the Event interface.
func (LoanRepaid) EventType() string { return TypeLoanRepaid }

// Event converts the structured payload into a broadcastable event.
func (e LoanRepaid) Event() *types.Event {
	return &types.Event{Type: TypeLoanRepaid, Attributes: map[string]string{
		"loanId":  formatUint(e.LoanID),
		"user":    formatAddress(e.User),
		"amount":  formatAmount(e.Amount),
		"onTime":  strconv.FormatBool(e.OnTime),
		"chainId": formatUint(e.ChainID),
	}}
}

// LoanLiquidated captures a seizure and where the collateral went.
type LoanLiquidated struct {
	LoanID       uint64
	User         crypto.Address
	Liquidator   crypto.Address
	Token        string
	ToLiquidator *big.Int
	ToTreasury   *big.Int
	Expired      bool
	HealthFactor *big.Int
}

// EventType satisfies the Event interface.
func (LoanLiquidated) EventType() string { return TypeLoanLiquidated }

// Event converts the structured payload into a broadcastable event.
func (e LoanLiquidated) Event() *types.Event {
	attrs := map[string]string{
		"loanId":       formatUint(e.LoanID),
		"user":         formatAddress(e.User),
		"liquidator":   formatAddress(e.Liquidator),
		"token":        normalizeAsset(e.Token),
		"toLiquidator": formatAmount(e.ToLiquidator),
		"toTreasury":   formatAmount(e.ToTreasury),
		"expired":      strconv.FormatBool(e.Expired),
	}
	if e.HealthFactor != nil {
		attrs["healthFactor"] = e.HealthFactor.String()
	}
	return &types.Event{Type: TypeLoanLiquidated, Attributes: attrs}
}

// ActiveLoanUpdated reports the borrower's open loan count.
type ActiveLoanUpdated struct {
	User        crypto.Address
	ActiveLoans uint32
}

// EventType satisfies the Event interface.
func (ActiveLoanUpdated) EventType() string { return TypeActiveLoanUpdated }

// Event converts the structured payload into a broadcastable event.
func (e ActiveLoanUpdated) Event() *types.Event {
	return &types.Event{Type: TypeActiveLoanUpdated, Attributes: map[string]string{
		"user":        formatAddress(e.User),
		"activeLoans": strconv.FormatUint(uint64(e.ActiveLoans), 10),
	}}
}

// ProtocolFeeCollected captures a fee routed to the treasury.
type ProtocolFeeCollected struct {
	LoanID   uint64
	Token    string
	Amount   *big.Int
	Treasury crypto.Address
}

// EventType satisfies the Event interface.
func (ProtocolFeeCollected) EventType() string { return TypeProtocolFeeCollected }

// Event converts the structured payload into a broadcastable event.
func (e ProtocolFeeCollected) Event() *types.Event {
	return &types.Event{Type: TypeProtocolFeeCollected, Attributes: map[string]string{
		"loanId":   formatUint(e.LoanID),
		"token":    normalizeAsset(e.Token),
		"amount":   formatAmount(e.Amount),
		"treasury": formatAddress(e.Treasury),
	}}
}

// PoolFunded captures liquidity added to the lending pool.
type PoolFunded struct {
	Funder crypto.Address
	Token  string
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (PoolFunded) EventType() string { return TypePoolFunded }

// Event converts the structured payload into a broadcastable event.
func (e PoolFunded) Event() *types.Event {
	return &types.Event{Type: TypePoolFunded, Attributes: map[string]string{
		"funder": formatAddress(e.Funder),
		"token":  normalizeAsset(e.Token),
		"amount": formatAmount(e.Amount),
	}}
}

// LendingParamsUpdated records a single parameter change.
type LendingParamsUpdated struct {
	Param string
	Token string
	Value string
}

// EventType satisfies the Event interface.
func (LendingParamsUpdated) EventType() string { return TypeLendingParamsUpdated }

// Event converts the structured payload into a broadcastable event.
func (e LendingParamsUpdated) Event() *types.Event {
	attrs := map[string]string{
		"param": e.Param,
		"value": e.Value,
	}
	if token := normalizeAsset(e.Token); token != "" {
		attrs["token"] = token
	}
	return &types.Event{Type: TypeLendingParamsUpdated, Attributes: attrs}
}
