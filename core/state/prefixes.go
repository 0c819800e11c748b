package state

import (
	"encoding/binary"

	"xficredit/crypto"
)

var (
	TokenAllowedPrefix  = []byte("tokens/allowed/")
	YieldPositionPrefix = []byte("yield/position/")
	YieldOwnerPrefix    = []byte("yield/owner/")
	YieldPendingPrefix  = []byte("yield/pending/")
	YieldReservePrefix  = []byte("yield/reserve/")
	YieldMetaKey        = []byte("yield/meta")
	YieldCounterKey     = []byte("yield/counter")
	LoanPrefix          = []byte("lending/loan/")
	LoanUserPrefix      = []byte("lending/user/")
	LendingPoolPrefix   = []byte("lending/pool/")
	LendingTokenPrefix  = []byte("lending/token/")
	LendingMetaKey      = []byte("lending/meta")
	LendingCounterKey   = []byte("lending/counter")
	CreditProfilePrefix = []byte("credit/profile/")
	FeeBalancePrefix    = []byte("fees/balance/")
	FeeMetaKey          = []byte("fees/meta")
	PausePrefix         = []byte("pauses/")
)

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func u64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// TokenAllowedKey marks token as allow-listed.
func TokenAllowedKey(token string) []byte {
	return join(TokenAllowedPrefix, []byte(token))
}

// YieldPositionKey addresses a position by global id.
func YieldPositionKey(id uint64) []byte {
	return join(YieldPositionPrefix, u64(id))
}

// YieldOwnerIndexKey indexes a position under its owner.
func YieldOwnerIndexKey(owner crypto.Address, id uint64) []byte {
	return join(YieldOwnerPrefix, owner[:], u64(id))
}

// YieldOwnerIndexPrefix is the prefix for every position index of owner.
func YieldOwnerIndexPrefix(owner crypto.Address) []byte {
	return join(YieldOwnerPrefix, owner[:])
}

// YieldPendingKey addresses a pending withdrawal balance.
func YieldPendingKey(owner crypto.Address, token string) []byte {
	return join(YieldPendingPrefix, owner[:], []byte(token))
}

// YieldReserveKey addresses a token's yield reserve.
func YieldReserveKey(token string) []byte {
	return join(YieldReservePrefix, []byte(token))
}

// LoanKey addresses a loan by global id.
func LoanKey(id uint64) []byte {
	return join(LoanPrefix, u64(id))
}

// LoanUserIndexKey indexes a loan under its borrower.
func LoanUserIndexKey(user crypto.Address, id uint64) []byte {
	return join(LoanUserPrefix, user[:], u64(id))
}

// LendingPoolKey addresses a token's borrowable liquidity.
func LendingPoolKey(token string) []byte {
	return join(LendingPoolPrefix, []byte(token))
}

// LendingTokenKey addresses the per-token risk settings.
func LendingTokenKey(token string) []byte {
	return join(LendingTokenPrefix, []byte(token))
}

// CreditProfileKey addresses a user's credit profile.
func CreditProfileKey(user crypto.Address) []byte {
	return join(CreditProfilePrefix, user[:])
}

// FeeBalanceKey addresses a token's accrued fees.
func FeeBalanceKey(token string) []byte {
	return join(FeeBalancePrefix, []byte(token))
}

// PauseKey marks module as paused.
func PauseKey(module string) []byte {
	return join(PausePrefix, []byte(module))
}

// TrailingID decodes the big-endian id at the end of an id-suffixed key.
func TrailingID(key []byte) (uint64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), true
}

// Suffix strips prefix from key.
func Suffix(key, prefix []byte) []byte {
	if len(key) < len(prefix) {
		return nil
	}
	return key[len(prefix):]
}
