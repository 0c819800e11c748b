// Package reports produces reconciliation snapshots of the ledgers: pool
// liquidity, yield reserves and locked value, treasury balances and loans.
package reports

import (
	"math/big"
	"sort"
	"time"

	"xficredit/app"
)

// Balance sections.
const (
	SectionPool     = "pool"
	SectionLocked   = "yield_locked"
	SectionReserve  = "yield_reserve"
	SectionTreasury = "treasury"
)

// BalanceRow is one per-token aggregate.
type BalanceRow struct {
	Section string
	Token   string
	Amount  *big.Int
}

// LoanRow is one loan with its outstanding amount at snapshot time. Closed
// loans report zero outstanding.
type LoanRow struct {
	LoanID           uint64
	User             string
	Status           string
	CollateralToken  string
	CollateralAmount *big.Int
	BorrowToken      string
	BorrowAmount     *big.Int
	InterestRateBps  uint32
	StartTime        int64
	DueAt            int64
	AmountPaid       *big.Int
	Outstanding      *big.Int
}

// Snapshot is a point-in-time view of the ledgers.
type Snapshot struct {
	GeneratedAt time.Time
	Balances    []BalanceRow
	Loans       []LoanRow
}

// Build reads every ledger. Rows are sorted so repeated snapshots of the same
// state are identical.
func Build(ledgers *app.Ledgers, now time.Time) *Snapshot {
	snap := &Snapshot{GeneratedAt: now.UTC()}

	snap.Balances = appendSection(snap.Balances, SectionPool, ledgers.Lending.Pools())
	stats := ledgers.Yield.Stats()
	snap.Balances = appendSection(snap.Balances, SectionLocked, stats.ValueLocked)
	snap.Balances = appendSection(snap.Balances, SectionReserve, stats.Reserves)
	treasury := make(map[string]*big.Int)
	for _, b := range ledgers.Treasury.Balances() {
		treasury[b.Token] = b.Amount
	}
	snap.Balances = appendSection(snap.Balances, SectionTreasury, treasury)

	for _, loan := range ledgers.Lending.Loans() {
		outstanding := new(big.Int)
		if loan.Active {
			if due, err := ledgers.Lending.Due(loan.User, loan.ID); err == nil {
				outstanding = due.Total
			}
		}
		snap.Loans = append(snap.Loans, LoanRow{
			LoanID:           loan.ID,
			User:             loan.User.String(),
			Status:           loan.Status.String(),
			CollateralToken:  loan.CollateralToken,
			CollateralAmount: loan.CollateralAmount,
			BorrowToken:      loan.BorrowToken,
			BorrowAmount:     loan.BorrowAmount,
			InterestRateBps:  loan.InterestRate,
			StartTime:        loan.StartTime,
			DueAt:            loan.DueAt(),
			AmountPaid:       loan.AmountPaid,
			Outstanding:      outstanding,
		})
	}
	sort.Slice(snap.Loans, func(i, j int) bool { return snap.Loans[i].LoanID < snap.Loans[j].LoanID })
	return snap
}

func appendSection(rows []BalanceRow, section string, amounts map[string]*big.Int) []BalanceRow {
	tokens := make([]string, 0, len(amounts))
	for token := range amounts {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	for _, token := range tokens {
		rows = append(rows, BalanceRow{Section: section, Token: token, Amount: amounts[token]})
	}
	return rows
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
