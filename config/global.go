package config

import (
	"fmt"
	"math/big"
	"strings"
)

// MinCollateralAmount parses the configured minimum collateral. An empty value
// means no minimum.
func (t TokenRisk) MinCollateralAmount() (*big.Int, error) {
	amount, err := parseUintAmount(t.MinCollateral)
	if err != nil {
		return nil, fmt.Errorf("invalid token.%s.MinCollateral: %w", t.Token, err)
	}
	return amount, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("must not be negative: %q", raw)
	}
	return value, nil
}
