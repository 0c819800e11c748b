package config

import (
	"math/big"
	"strings"

	"xficredit/crypto"
)

// ParseAmount parses a positive base-10 integer.
func ParseAmount(raw string) (*big.Int, bool) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() <= 0 {
		return nil, false
	}
	return value, true
}

// Custody returns the configured custody address, or ok=false when raw is
// empty and the caller should derive one.
func Custody(raw string) (crypto.Address, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, false, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, false, err
	}
	return addr, true, nil
}
