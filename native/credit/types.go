package credit

import (
	"math/big"

	"xficredit/crypto"
)

// Profile is the per-user repayment history and score.
type Profile struct {
	User             crypto.Address `json:"user"`
	TotalBorrowed    *big.Int       `json:"totalBorrowed"`
	TotalRepaid      *big.Int       `json:"totalRepaid"`
	ActiveLoans      uint32         `json:"activeLoans"`
	OnTimeRepayments uint32         `json:"onTimeRepayments"`
	LateRepayments   uint32         `json:"lateRepayments"`
	Liquidations     uint32         `json:"liquidations"`
	LastUpdated      int64          `json:"lastUpdated"`
	Score            uint32         `json:"score"`
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalBorrowed = copyAmount(p.TotalBorrowed)
	clone.TotalRepaid = copyAmount(p.TotalRepaid)
	return &clone
}

type storedProfile struct {
	User             crypto.Address
	TotalBorrowed    *big.Int
	TotalRepaid      *big.Int
	ActiveLoans      uint32
	OnTimeRepayments uint32
	LateRepayments   uint32
	Liquidations     uint32
	LastUpdated      uint64
	Score            uint32
}

func toStored(p *Profile) storedProfile {
	var updated uint64
	if p.LastUpdated > 0 {
		updated = uint64(p.LastUpdated)
	}
	return storedProfile{
		User:             p.User,
		TotalBorrowed:    copyAmount(p.TotalBorrowed),
		TotalRepaid:      copyAmount(p.TotalRepaid),
		ActiveLoans:      p.ActiveLoans,
		OnTimeRepayments: p.OnTimeRepayments,
		LateRepayments:   p.LateRepayments,
		Liquidations:     p.Liquidations,
		LastUpdated:      updated,
		Score:            p.Score,
	}
}

func (s storedProfile) profile() *Profile {
	return &Profile{
		User:             s.User,
		TotalBorrowed:    copyAmount(s.TotalBorrowed),
		TotalRepaid:      copyAmount(s.TotalRepaid),
		ActiveLoans:      s.ActiveLoans,
		OnTimeRepayments: s.OnTimeRepayments,
		LateRepayments:   s.LateRepayments,
		Liquidations:     s.Liquidations,
		LastUpdated:      int64(s.LastUpdated),
		Score:            s.Score,
	}
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
