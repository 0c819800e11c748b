package fees

import (
	"math/big"

	"xficredit/native/common"
)

// MaxFeeBps is the largest protocol fee that can be configured.
const MaxFeeBps = common.BasisPoints

// Quote summarises a fee charged on top of, or carved out of, a gross amount.
type Quote struct {
	Gross *big.Int
	Fee   *big.Int
	Net   *big.Int
}

// Apply evaluates bps against gross. The fee never exceeds gross; Net is the
// remainder after the fee is removed.
func Apply(gross *big.Int, bps uint64) Quote {
	q := Quote{Gross: common.Copy(gross), Fee: new(big.Int), Net: common.Copy(gross)}
	if q.Gross.Sign() <= 0 || bps == 0 {
		return q
	}
	fee := common.ApplyBps(q.Gross, bps)
	if fee.Cmp(q.Gross) >= 0 {
		q.Fee = new(big.Int).Set(q.Gross)
		q.Net = new(big.Int)
		return q
	}
	q.Fee = fee
	q.Net = new(big.Int).Sub(q.Gross, fee)
	return q
}

// Surcharge returns gross plus the fee charged on it.
func (q Quote) Surcharge() *big.Int {
	return new(big.Int).Add(common.Copy(q.Gross), common.Copy(q.Fee))
}

// Balance is the accrued amount of one token.
type Balance struct {
	Token  string   `json:"token"`
	Amount *big.Int `json:"amount"`
}

// Clone returns a copy with a duplicated amount.
func (b Balance) Clone() Balance {
	return Balance{Token: b.Token, Amount: common.Copy(b.Amount)}
}
