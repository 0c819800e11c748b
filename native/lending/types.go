package lending

import (
	"math/big"

	"xficredit/crypto"
	"xficredit/native/common"
)

// LoanStatus is the lifecycle state of a loan. Repaid and Liquidated are
// terminal.
type LoanStatus uint8

const (
	StatusActive LoanStatus = iota
	StatusRepaid
	StatusLiquidated
)

func (s LoanStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRepaid:
		return "repaid"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON payloads.
func (s LoanStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Loan is a collateralised fixed-term borrow.
type Loan struct {
	ID               uint64         `json:"loanId"`
	User             crypto.Address `json:"user"`
	CollateralToken  string         `json:"collateralToken"`
	CollateralAmount *big.Int       `json:"collateralAmount"`
	BorrowToken      string         `json:"borrowToken"`
	BorrowAmount     *big.Int       `json:"borrowAmount"`
	Duration         uint64         `json:"duration"`
	StartTime        int64          `json:"startTime"`
	InterestRate     uint32         `json:"interestRateBps"`
	AmountPaid       *big.Int       `json:"amountPaid"`
	Active           bool           `json:"active"`
	ChainID          uint64         `json:"chainId"`
	Status           LoanStatus     `json:"status"`
	ClosedAt         int64          `json:"closedAt,omitempty"`
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.CollateralAmount = common.Copy(l.CollateralAmount)
	clone.BorrowAmount = common.Copy(l.BorrowAmount)
	clone.AmountPaid = common.Copy(l.AmountPaid)
	return &clone
}

// DueAt is the end of the loan term.
func (l *Loan) DueAt() int64 {
	return l.StartTime + int64(l.Duration)
}

// BorrowRequest carries the terms of a new loan.
type BorrowRequest struct {
	Caller             crypto.Address
	CollateralToken    string
	CollateralAmount   *big.Int
	BorrowToken        string
	BorrowAmount       *big.Int
	Duration           uint64
	DestinationChainID uint64
}

// Liquidation describes a completed seizure.
type Liquidation struct {
	LoanID       uint64
	User         crypto.Address
	Token        string
	ToLiquidator *big.Int
	ToTreasury   *big.Int
	Expired      bool
	HealthFactor *big.Int
}

// BatchSkip reports a pair BatchLiquidate did not act on.
type BatchSkip struct {
	User   crypto.Address `json:"user"`
	LoanID uint64         `json:"loanId"`
	Reason string         `json:"reason"`
}

// BatchResult lists what BatchLiquidate did.
type BatchResult struct {
	Liquidated []*Liquidation `json:"liquidated"`
	Skipped    []BatchSkip    `json:"skipped"`
}

type storedLoan struct {
	ID               uint64
	User             crypto.Address
	CollateralToken  string
	CollateralAmount *big.Int
	BorrowToken      string
	BorrowAmount     *big.Int
	Duration         uint64
	StartTime        uint64
	InterestRate     uint32
	AmountPaid       *big.Int
	Active           bool
	ChainID          uint64
	Status           uint8
	ClosedAt         uint64
}

type storedPool struct {
	Token  string
	Amount *big.Int
}

type storedToken struct {
	Token            string
	MinCollateral    *big.Int
	Threshold        uint64
	ThresholdSet     bool
	BorrowRestricted bool
}

// storedMeta holds the parameters changed through the admin setters. Only
// the fields flagged in Overrides are applied on restore.
type storedMeta struct {
	Overrides          uint64
	MinHealthFactor    uint64
	ProtocolFeeBps     uint64
	MinimumDuration    uint64
	AllowLateRepayment bool
	LiquidatorBps      uint64
	TreasuryBps        uint64
}

func toStoredLoan(l *Loan) storedLoan {
	return storedLoan{
		ID:               l.ID,
		User:             l.User,
		CollateralToken:  l.CollateralToken,
		CollateralAmount: common.Copy(l.CollateralAmount),
		BorrowToken:      l.BorrowToken,
		BorrowAmount:     common.Copy(l.BorrowAmount),
		Duration:         l.Duration,
		StartTime:        unixToStored(l.StartTime),
		InterestRate:     l.InterestRate,
		AmountPaid:       common.Copy(l.AmountPaid),
		Active:           l.Active,
		ChainID:          l.ChainID,
		Status:           uint8(l.Status),
		ClosedAt:         unixToStored(l.ClosedAt),
	}
}

func (s storedLoan) loan() *Loan {
	return &Loan{
		ID:               s.ID,
		User:             s.User,
		CollateralToken:  s.CollateralToken,
		CollateralAmount: common.Copy(s.CollateralAmount),
		BorrowToken:      s.BorrowToken,
		BorrowAmount:     common.Copy(s.BorrowAmount),
		Duration:         s.Duration,
		StartTime:        int64(s.StartTime),
		InterestRate:     s.InterestRate,
		AmountPaid:       common.Copy(s.AmountPaid),
		Active:           s.Active,
		ChainID:          s.ChainID,
		Status:           LoanStatus(s.Status),
		ClosedAt:         int64(s.ClosedAt),
	}
}

func unixToStored(v int64) uint64 {
	if v <= 0 {
		return 0
	}
	return uint64(v)
}
