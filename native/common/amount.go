package common

import (
	"math"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator for every bps-expressed rate.
const BasisPoints = 10_000

// SecondsPerYear is the 365-day year used by every accrual formula.
const SecondsPerYear = 365 * 24 * 60 * 60

var (
	basisPoints    = big.NewInt(BasisPoints)
	secondsPerYear = big.NewInt(SecondsPerYear)
)

// MaxUint256 is the largest representable amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// TermFits reports whether start + duration is representable as a unix
// timestamp.
func TermFits(start int64, duration uint64) bool {
	if duration > math.MaxInt64 {
		return false
	}
	if start <= 0 {
		return true
	}
	return int64(duration) <= math.MaxInt64-start
}

// CheckAmount validates a strictly positive amount that fits in 256 bits.
func CheckAmount(v *big.Int) error {
	if v == nil || v.Sign() == 0 {
		return ErrZeroAmount
	}
	return CheckU256(v)
}

// CheckU256 validates a non-negative amount that fits in 256 bits.
func CheckU256(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return ErrNegativeAmount
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrAmountOverflow
	}
	return nil
}

// Copy returns an independent copy, treating nil as zero.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// ApplyBps returns floor(amount * bps / 10000).
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// LinearAccrual returns floor(principal * rateBps * elapsed / (10000 * secondsPerYear)).
func LinearAccrual(principal *big.Int, rateBps uint64, elapsed uint64) *big.Int {
	if principal == nil || principal.Sign() == 0 || rateBps == 0 || elapsed == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	num.Mul(num, new(big.Int).SetUint64(elapsed))
	den := new(big.Int).Mul(basisPoints, secondsPerYear)
	return num.Quo(num, den)
}

// NormalizeAsset canonicalises an asset identifier.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
